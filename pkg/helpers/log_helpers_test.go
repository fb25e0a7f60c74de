package helpers

import (
	"context"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	msgs []*message.Message
}

func (p *capturingPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func TestCorrelationDecoratorStampsMessages(t *testing.T) {
	inner := &capturingPublisher{}
	pub := CorrelationPublisherDecorator{Publisher: inner}

	tagged := message.NewMessage("1", []byte("{}"))
	tagged.SetContext(ContextWithCorrelationID(context.Background(), "corr-123"))

	bare := message.NewMessage("2", []byte("{}"))

	preset := message.NewMessage("3", []byte("{}"))
	preset.Metadata.Set("correlation_id", "already-set")

	require.NoError(t, pub.Publish("topic", tagged, bare, preset))
	require.Len(t, inner.msgs, 3)

	assert.Equal(t, "corr-123", inner.msgs[0].Metadata.Get("correlation_id"))
	assert.True(t, strings.HasPrefix(inner.msgs[1].Metadata.Get("correlation_id"), "gen_"))
	assert.Equal(t, "already-set", inner.msgs[2].Metadata.Get("correlation_id"))
}
