package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eventsnap/pkg/logger"
	"eventsnap/pkg/models"
	"eventsnap/pkg/tree"
)

func newTestService(t *testing.T, opt Options) (*Service, *tree.Store) {
	t.Helper()
	logger.Init()
	store, err := tree.Open(t.TempDir())
	require.NoError(t, err)
	svc := NewService(store, opt)
	t.Cleanup(func() {
		svc.Close()
		_ = store.Close()
	})
	return svc, store
}

func TestConversationIDDeterministic(t *testing.T) {
	if ConversationID("bob", "alice") != ConversationID("alice", "bob") {
		t.Fatalf("id must not depend on argument order")
	}
	if ConversationID("alice", "bob") != "alice_bob" {
		t.Fatalf("expected alice_bob, got %s", ConversationID("alice", "bob"))
	}
}

func TestCreateOrGetIdempotent(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	cid, err := svc.CreateOrGet(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, "alice_bob", cid)

	conv, err := svc.GetConversation(ctx, cid)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, conv.Participants)
	require.Equal(t, "direct", conv.Type)
	require.Equal(t, 0, conv.UnreadCount["alice"])
	require.Equal(t, 0, conv.UnreadCount["bob"])

	// creation seeds a system message
	msgs, err := svc.ListMessages(ctx, cid, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, models.TypeSystem, msgs[0].Type)

	// second call from the other side resolves the same record without
	// adding anything
	cid2, err := svc.CreateOrGet(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, cid, cid2)
	msgs, err = svc.ListMessages(ctx, cid, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestCreateOrGetSeedsSummary(t *testing.T) {
	svc, store := newTestService(t, Options{})
	ctx := context.Background()

	cid, err := svc.CreateOrGet(ctx, "alice", "bob")
	require.NoError(t, err)

	conv, err := svc.GetConversation(ctx, cid)
	require.NoError(t, err)
	msgs, err := svc.ListMessages(ctx, cid, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// the record's summary reflects the seeded system message
	require.NotNil(t, conv.LastMessage)
	require.Equal(t, msgs[0].ID, conv.LastMessage.ID)
	require.Equal(t, models.TypeSystem, conv.LastMessage.Type)
	require.Equal(t, msgs[0].TS, conv.LastMessageTS)

	// and agrees with the index entry written in the same batch
	raw, err := store.Get(ctx, "userChats/alice/"+cid)
	require.NoError(t, err)
	var ref models.UserChatRef
	require.NoError(t, json.Unmarshal(raw, &ref))
	require.Equal(t, conv.LastMessageTS, ref.LastMessageTS)
	require.Equal(t, conv.LastMessage.ID, ref.LastMessageID)
}

func TestCreateOrGetValidation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.CreateOrGet(ctx, "", "bob")
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.CreateOrGet(ctx, "alice", "alice")
	require.ErrorIs(t, err, ErrValidation)
}

func TestListConversationsSorted(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	cid1, err := svc.CreateOrGet(ctx, "alice", "bob")
	require.NoError(t, err)
	cid2, err := svc.CreateOrGet(ctx, "alice", "carol")
	require.NoError(t, err)

	// activity in cid1 moves it to the front
	_, err = svc.Send(ctx, cid1, "bob", Payload{Content: "hi"})
	require.NoError(t, err)

	convs, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.Equal(t, cid1, convs[0].ID)
	require.Equal(t, cid2, convs[1].ID)

	// carol sees only her conversation
	convs, err = svc.ListConversations(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, cid2, convs[0].ID)
}

func TestSubscribeConversations(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	ch := make(chan []models.Conversation, 16)
	cancel, err := svc.SubscribeConversations("alice", func(convs []models.Conversation) {
		ch <- convs
	}, nil)
	require.NoError(t, err)
	defer cancel()

	// initial push is empty
	select {
	case convs := <-ch:
		require.Empty(t, convs)
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial conversation push")
	}

	cid, err := svc.CreateOrGet(ctx, "alice", "bob")
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case convs := <-ch:
			if len(convs) == 1 && convs[0].ID == cid {
				return
			}
		case <-deadline:
			t.Fatalf("conversation never pushed to subscriber")
		}
	}
}

func TestArchiveAndMute(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	cid, err := svc.CreateOrGet(ctx, "alice", "bob")
	require.NoError(t, err)

	require.NoError(t, svc.SetArchived(ctx, cid, "alice", true))
	require.NoError(t, svc.SetMuted(ctx, cid, "bob", true))

	conv, err := svc.GetConversation(ctx, cid)
	require.NoError(t, err)
	require.True(t, conv.Archived["alice"])
	require.False(t, conv.Archived["bob"])
	require.True(t, conv.Muted["bob"])

	// non-participants may not touch the flags
	err = svc.SetArchived(ctx, cid, "mallory", true)
	require.ErrorIs(t, err, ErrPermission)

	// archiving removes nothing
	msgs, err := svc.ListMessages(ctx, cid, 0)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
}

func TestGetConversationNotFound(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	_, err := svc.GetConversation(context.Background(), "nope_nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCloseCancelsSubscriptions(t *testing.T) {
	logger.Init()
	store, err := tree.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	svc := NewService(store, Options{})

	cancel, err := svc.SubscribeConversations("alice", func([]models.Conversation) {}, nil)
	require.NoError(t, err)

	svc.Close()
	// disposers stay callable after Close
	cancel()

	// new work after Close still fails at the typing registry, not panics
	require.NoError(t, svc.SetTyping(context.Background(), "alice_bob", "alice", true))
}

func TestMonitorConnected(t *testing.T) {
	svc, store := newTestService(t, Options{})
	require.True(t, svc.Monitor().IsConnected())

	states := make(chan bool, 4)
	cancel := svc.Monitor().Watch(func(up bool) { states <- up })
	defer cancel()
	select {
	case up := <-states:
		require.True(t, up)
	case <-time.After(time.Second):
		t.Fatalf("no initial connectivity delivery")
	}

	require.NoError(t, store.Close())
	select {
	case up := <-states:
		require.False(t, up)
	case <-time.After(time.Second):
		t.Fatalf("no connectivity delivery on close")
	}
	require.False(t, svc.Monitor().IsConnected())
}

func TestWrapTreeMapsNotFound(t *testing.T) {
	err := wrapTree("x", tree.ErrNoNode)
	require.ErrorIs(t, err, ErrNotFound)
	err = wrapTree("x", errors.New("io broke"))
	require.ErrorIs(t, err, ErrTransport)
}
