package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/casualhermit27/branched-sub001/pkg/helpers"
)

// GenerationEventHandler receives the typed events of one generation
// stream, in publish order.
type GenerationEventHandler interface {
	HandleStart(ctx context.Context, e *EventGenerationStart) error
	HandlePartial(ctx context.Context, e *EventPartialText) error
	HandleFinal(ctx context.Context, e *EventFinal) error
	HandleInterrupt(ctx context.Context, e *EventInterrupt) error
	HandleError(ctx context.Context, e *EventError) error
}

// EventRouter wires an in-process gochannel pub/sub to a watermill
// router. Publishing blocks until a subscriber acks, so a handler
// registered before Run observes every event.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		r.logger = helpers.NewWatermill(log.Logger)
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("closing publisher")
	err := e.Publisher.Close()
	if err != nil {
		log.Error().Err(err).Msg("failed to close pubsub")
		// not returning just yet, the router still needs closing
	}

	log.Debug().Msg("closing router")
	err = e.router.Close()
	if err != nil {
		log.Error().Err(err).Msg("failed to close router")
	}

	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// RegisterHandler subscribes a GenerationEventHandler to a topic,
// decoding each message and dispatching on the event type.
func (e *EventRouter) RegisterHandler(name string, topic string, handler GenerationEventHandler) {
	e.AddHandler(name, topic, NewDispatchHandler(handler))
}

// NewDispatchHandler adapts a GenerationEventHandler to a watermill
// handler function. Undecodable messages are logged and acked rather
// than poisoning the subscription.
func NewDispatchHandler(handler GenerationEventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ev, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().
				Err(err).
				Str("message_id", msg.UUID).
				Str("payload", string(msg.Payload)).
				Msg("failed to parse generation event")
			return nil
		}

		msgCtx := msg.Context()
		var handlerErr error
		switch typed := ev.(type) {
		case *EventGenerationStart:
			handlerErr = handler.HandleStart(msgCtx, typed)
		case *EventPartialText:
			handlerErr = handler.HandlePartial(msgCtx, typed)
		case *EventFinal:
			handlerErr = handler.HandleFinal(msgCtx, typed)
		case *EventInterrupt:
			handlerErr = handler.HandleInterrupt(msgCtx, typed)
		case *EventError:
			handlerErr = handler.HandleError(msgCtx, typed)
		default:
			log.Warn().
				Str("message_id", msg.UUID).
				Str("event_type", string(ev.Type())).
				Msg("unhandled generation event type")
		}

		if handlerErr != nil {
			log.Error().
				Err(handlerErr).
				Str("event_type", string(ev.Type())).
				Msg("error processing generation event")
			return handlerErr
		}

		return nil
	}
}

// DumpRawEvents prints each event as indented JSON, for the demo and
// debugging.
func (e *EventRouter) DumpRawEvents(msg *message.Message) error {
	defer msg.Ack()

	var s map[string]interface{}
	err := json.Unmarshal(msg.Payload, &s)
	if err != nil {
		return err
	}
	if !e.verbose {
		if meta, ok := s["meta"].(map[string]interface{}); ok {
			s["id"] = meta["message_id"]
			delete(s, "meta")
		}
	}
	s_, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(s_))
	return nil
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

func (e *EventRouter) RunHandlers(ctx context.Context) error {
	return e.router.RunHandlers(ctx)
}
