package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
)

func mustSend(t *testing.T, s *Session, branchID conversation.BranchID, text string) *conversation.Message {
	t.Helper()
	msg, err := s.SendUserMessage(branchID, text)
	require.NoError(t, err)
	return msg
}

func displayTexts(s *Session, branchID conversation.BranchID) []string {
	texts := []string{}
	for _, msg := range s.Manager().GetContextForDisplay(branchID) {
		texts = append(texts, msg.DisplayText())
	}
	return texts
}

func TestForkAtMessagePreservesStores(t *testing.T) {
	s := NewSession()
	m1 := mustSend(t, s, conversation.MainBranchID, "one")
	m2 := mustSend(t, s, conversation.MainBranchID, "two")
	mustSend(t, s, conversation.MainBranchID, "three")

	created, err := s.CreateBranch(context.Background(), conversation.MainBranchID, m2.ID)
	require.NoError(t, err)
	require.Len(t, created, 1)
	branchA := created[0].ID

	// Forking copies no messages; the fork sees history through its
	// snapshot.
	assert.Equal(t, 3, s.Messages().Size())
	assert.Equal(t, []string{"one", "two"}, displayTexts(s, branchA))

	mustSend(t, s, branchA, "fork turn")
	assert.Equal(t, 4, s.Messages().Size())
	assert.Len(t, displayTexts(s, branchA), 3)
	assert.Len(t, displayTexts(s, conversation.MainBranchID), 3)

	require.NoError(t, s.DeleteBranch(branchA))
	assert.Equal(t, 3, s.Messages().Size())
	assert.Equal(t, 1, s.Branches().Len())
	assert.Len(t, displayTexts(s, conversation.MainBranchID), 3)
	assert.True(t, s.Messages().Has(m1.ID))
}

func TestCreateBranchFanOutSharesGroupAndSnapshot(t *testing.T) {
	s := NewSession()
	m1 := mustSend(t, s, conversation.MainBranchID, "prompt")

	created, err := s.CreateBranch(context.Background(), conversation.MainBranchID, m1.ID,
		WithModels("model-a", "model-b", "model-c"))
	require.NoError(t, err)
	require.Len(t, created, 3)

	groupID := created[0].Metadata.GroupID
	require.NotEmpty(t, groupID)
	for i, model := range []string{"model-a", "model-b", "model-c"} {
		assert.Equal(t, groupID, created[i].Metadata.GroupID)
		assert.Equal(t, []string{model}, created[i].Metadata.SelectedModels)
		require.NotNil(t, created[i].Snapshot)
		assert.Equal(t, created[0].Snapshot.InheritedMessageIDs, created[i].Snapshot.InheritedMessageIDs)
	}
}

func TestCreateBranchSingleModelHasNoGroup(t *testing.T) {
	s := NewSession()
	m1 := mustSend(t, s, conversation.MainBranchID, "prompt")

	created, err := s.CreateBranch(context.Background(), conversation.MainBranchID, m1.ID,
		WithModels("only-model"))
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Empty(t, created[0].Metadata.GroupID)
}

func TestCreateBranchUnknownParent(t *testing.T) {
	s := NewSession()
	m1 := mustSend(t, s, conversation.MainBranchID, "hello")

	_, err := s.CreateBranch(context.Background(), conversation.BranchID("nope"), m1.ID)
	require.ErrorIs(t, err, conversation.ErrBranchNotFound)
}

func TestCreateBranchRetryEventuallySeesMessage(t *testing.T) {
	s := NewSession(WithForkRetry(5, 10*time.Millisecond))
	mustSend(t, s, conversation.MainBranchID, "first")

	late := conversation.NewUserMessage("late arrival",
		conversation.WithNodeID(conversation.MainBranchID))
	go func() {
		time.Sleep(15 * time.Millisecond)
		_ = s.Messages().Set(late)
		_ = s.Branches().AddMessage(conversation.MainBranchID, late.ID)
	}()

	created, err := s.CreateBranch(context.Background(), conversation.MainBranchID, late.ID)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, late.ID, created[0].Snapshot.BranchPointMessageID)
	assert.True(t, created[0].Snapshot.Contains(late.ID))
}

func TestCreateBranchFailsAfterBoundedRetries(t *testing.T) {
	s := NewSession(WithForkRetry(2, time.Millisecond))
	mustSend(t, s, conversation.MainBranchID, "hello")

	_, err := s.CreateBranch(context.Background(), conversation.MainBranchID, conversation.NewMessageID())
	require.ErrorIs(t, err, conversation.ErrMissingReference)
	assert.Equal(t, 1, s.Branches().Len())
}

func TestCreateBranchHonorsContext(t *testing.T) {
	s := NewSession(WithForkRetry(3, time.Hour))
	mustSend(t, s, conversation.MainBranchID, "hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateBranch(ctx, conversation.MainBranchID, conversation.NewMessageID())
	require.ErrorIs(t, err, context.Canceled)
}

func TestSendUserMessageChainsParent(t *testing.T) {
	s := NewSession()
	m1 := mustSend(t, s, conversation.MainBranchID, "one")
	m2 := mustSend(t, s, conversation.MainBranchID, "two")

	assert.True(t, m1.ParentID.IsZero())
	assert.Equal(t, m1.ID, m2.ParentID)

	_, err := s.SendUserMessage(conversation.BranchID("ghost"), "hi")
	require.ErrorIs(t, err, conversation.ErrBranchNotFound)
}

func TestDeleteBranchCascades(t *testing.T) {
	s := NewSession()
	m1 := mustSend(t, s, conversation.MainBranchID, "root msg")

	createdA, err := s.CreateBranch(context.Background(), conversation.MainBranchID, m1.ID)
	require.NoError(t, err)
	branchA := createdA[0].ID
	ma := mustSend(t, s, branchA, "a msg")

	createdB, err := s.CreateBranch(context.Background(), branchA, ma.ID)
	require.NoError(t, err)
	branchB := createdB[0].ID
	mustSend(t, s, branchB, "b msg")

	require.Equal(t, 3, s.Branches().Len())
	require.Equal(t, 3, s.Messages().Size())

	require.NoError(t, s.DeleteBranch(branchA))

	assert.Equal(t, 1, s.Branches().Len())
	assert.False(t, s.Branches().Has(branchA))
	assert.False(t, s.Branches().Has(branchB))
	// Only the root's own message survives.
	assert.Equal(t, 1, s.Messages().Size())
	assert.True(t, s.Messages().Has(m1.ID))
}

func TestDeleteRootRefused(t *testing.T) {
	s := NewSession()
	require.ErrorIs(t, s.DeleteBranch(conversation.MainBranchID), conversation.ErrRootBranchImmutable)

	require.ErrorIs(t, s.DeleteBranch(conversation.BranchID("ghost")), conversation.ErrBranchNotFound)
}

func TestLinkBranchesFeedsFullContext(t *testing.T) {
	s := NewSession()
	m1 := mustSend(t, s, conversation.MainBranchID, "root msg")

	created, err := s.CreateBranch(context.Background(), conversation.MainBranchID, m1.ID)
	require.NoError(t, err)
	branchA := created[0].ID

	require.NoError(t, s.LinkBranches(branchA, conversation.MainBranchID))
	// Idempotent.
	require.NoError(t, s.LinkBranches(branchA, conversation.MainBranchID))

	bc, ok := s.Branches().Get(branchA)
	require.True(t, ok)
	require.Equal(t, []conversation.BranchID{conversation.MainBranchID}, bc.Metadata.LinkedBranches)

	payload, err := s.Manager().GetFullContext(context.Background(), branchA)
	require.NoError(t, err)
	require.Len(t, payload.Linked, 1)
	assert.Equal(t, conversation.MainBranchID, payload.Linked[0].BranchID)

	require.NoError(t, s.UnlinkBranches(branchA, conversation.MainBranchID))
	bc, ok = s.Branches().Get(branchA)
	require.True(t, ok)
	assert.Empty(t, bc.Metadata.LinkedBranches)

	// Unlinking twice is a no-op.
	require.NoError(t, s.UnlinkBranches(branchA, conversation.MainBranchID))
}

func TestLinkBranchesRejectsSelfAndUnknown(t *testing.T) {
	s := NewSession()
	err := s.LinkBranches(conversation.MainBranchID, conversation.MainBranchID)
	require.Error(t, err)

	err = s.LinkBranches(conversation.MainBranchID, conversation.BranchID("ghost"))
	require.ErrorIs(t, err, conversation.ErrBranchNotFound)
}

func TestLayoutTracksStructure(t *testing.T) {
	s := NewSession()

	positioned, err := s.Layout()
	require.NoError(t, err)
	require.Len(t, positioned, 1)
	assert.Equal(t, conversation.MainBranchID, positioned[0].ID)

	m1 := mustSend(t, s, conversation.MainBranchID, "hello")
	created, err := s.CreateBranch(context.Background(), conversation.MainBranchID, m1.ID,
		WithModels("a", "b"))
	require.NoError(t, err)

	positioned, err = s.Layout()
	require.NoError(t, err)
	require.Len(t, positioned, 3)

	byID := map[conversation.BranchID]int{}
	for i, pn := range positioned {
		byID[pn.ID] = i
	}
	require.Contains(t, byID, created[0].ID)
	require.Contains(t, byID, created[1].ID)

	// Fan-out siblings share a row below the root.
	childA := positioned[byID[created[0].ID]]
	childB := positioned[byID[created[1].ID]]
	root := positioned[byID[conversation.MainBranchID]]
	assert.Equal(t, childA.Position.Y, childB.Position.Y)
	assert.Greater(t, childA.Position.Y, root.Position.Y)
}

func TestSetMinimizedShrinksNode(t *testing.T) {
	s := NewSession()
	m1 := mustSend(t, s, conversation.MainBranchID, "hello")
	created, err := s.CreateBranch(context.Background(), conversation.MainBranchID, m1.ID)
	require.NoError(t, err)
	branchA := created[0].ID

	s.SetMinimized(branchA, true)

	positioned, err := s.Layout()
	require.NoError(t, err)
	var found bool
	for _, pn := range positioned {
		if pn.ID == branchA {
			found = true
			assert.Equal(t, 56.0, pn.Size.Height)
			assert.Equal(t, 180.0, pn.Size.Width)
		}
	}
	require.True(t, found)

	s.SetMinimized(branchA, false)
	positioned, err = s.Layout()
	require.NoError(t, err)
	for _, pn := range positioned {
		if pn.ID == branchA {
			assert.Greater(t, pn.Size.Height, 56.0)
		}
	}
}

func TestSessionSaveAndLoadRoundTrip(t *testing.T) {
	s := NewSession()
	m1 := mustSend(t, s, conversation.MainBranchID, "one")
	mustSend(t, s, conversation.MainBranchID, "two")
	created, err := s.CreateBranch(context.Background(), conversation.MainBranchID, m1.ID)
	require.NoError(t, err)
	branchA := created[0].ID
	mustSend(t, s, branchA, "fork turn")
	s.SetMinimized(branchA, true)

	_, err = s.Layout()
	require.NoError(t, err)

	doc := s.Export()
	assert.Equal(t, s.ID(), doc.SessionID)
	require.NotEmpty(t, doc.Presentation)
	var minimizedCarried bool
	for _, p := range doc.Presentation {
		if p.ID == branchA {
			minimizedCarried = p.Minimized
			assert.NotNil(t, p.Position)
		}
	}
	assert.True(t, minimizedCarried)

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, s.SaveToFile(path))

	restored := NewSession()
	require.NoError(t, restored.LoadFromFile(path))

	assert.Equal(t, displayTexts(s, conversation.MainBranchID), displayTexts(restored, conversation.MainBranchID))
	assert.Equal(t, displayTexts(s, branchA), displayTexts(restored, branchA))

	positioned, err := restored.Layout()
	require.NoError(t, err)
	for _, pn := range positioned {
		if pn.ID == branchA {
			assert.Equal(t, 56.0, pn.Size.Height)
		}
	}
}

func TestCloseDrainsSession(t *testing.T) {
	s := NewSession()
	mustSend(t, s, conversation.MainBranchID, "hello")
	require.NoError(t, s.Close())

	_, err := s.SendUserMessage(conversation.MainBranchID, "after close")
	require.Error(t, err)
}
