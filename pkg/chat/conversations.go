package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"eventsnap/pkg/logger"
	"eventsnap/pkg/models"
	"eventsnap/pkg/telemetry"
	"eventsnap/pkg/tree"
)

// CreateOrGet resolves the deterministic conversation for the two users,
// creating it when absent. Idempotent: concurrent calls from both
// participants write an identical initial record at the same path, so
// last-write-wins converges on one conversation.
func (s *Service) CreateOrGet(ctx context.Context, userA, userB string) (string, error) {
	if userA == "" || userB == "" {
		return "", validationErr(errors.New("both user ids are required"))
	}
	if userA == userB {
		return "", validationErr(errors.New("cannot start a conversation with yourself"))
	}
	cid := ConversationID(userA, userB)
	if _, err := s.loadConversation(ctx, cid); err == nil {
		return cid, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	now := s.t.Now()
	participants := []string{userA, userB}
	sort.Strings(participants)
	conv := models.Conversation{
		ID:           cid,
		Participants: participants,
		Type:         "direct",
		UnreadCount:  map[string]int{userA: 0, userB: 0},
		Archived:     map[string]bool{userA: false, userB: false},
		Muted:        map[string]bool{userA: false, userB: false},
		CreatedTS:    now,
		UpdatedTS:    now,
	}

	// Conversation record and both index entries land in one atomic
	// write, so list-screen listeners can never observe a conversation
	// without its index entry.
	mid := messageID(now, atomic.AddUint64(&s.seq, 1))
	sys := models.Message{
		ID:           mid,
		Conversation: cid,
		Sender:       userA,
		Recipient:    userB,
		Content:      "Conversation started",
		Type:         models.TypeSystem,
		TS:           now,
		Status:       models.StatusSent,
	}
	// the record's summary must agree with the index refs, or a fresh
	// conversation sorts below everything with activity
	conv.LastMessage = &models.LastMessage{
		ID:      mid,
		Type:    sys.Type,
		Content: sys.Content,
		Sender:  sys.Sender,
		TS:      now,
	}
	conv.LastMessageTS = now
	ref := models.UserChatRef{LastMessageTS: now, LastMessageID: mid}
	err := s.t.Update(ctx, map[string]any{
		metaPath(cid):            conv,
		messagePath(cid, mid):    sys,
		userChatPath(userA, cid): ref,
		userChatPath(userB, cid): ref,
	})
	if err != nil {
		return "", wrapTree("create conversation "+cid, err)
	}
	telemetry.ConversationsCreated.Inc()
	logger.Info("conversation_created", "conversation", cid)
	return cid, nil
}

// GetConversation returns the conversation record.
func (s *Service) GetConversation(ctx context.Context, cid string) (models.Conversation, error) {
	return s.loadConversation(ctx, cid)
}

// ListConversations returns the user's conversations sorted by most
// recent activity, read through the per-user index.
func (s *Service) ListConversations(ctx context.Context, user string) ([]models.Conversation, error) {
	if user == "" {
		return nil, validationErr(errors.New("user id is required"))
	}
	refs, err := s.t.Children(ctx, userChatsPath(user))
	if err != nil {
		return nil, wrapTree("list conversations for "+user, err)
	}
	out := make([]models.Conversation, 0, len(refs))
	for cid := range refs {
		conv, err := s.loadConversation(ctx, cid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// index entry outlived its conversation; skip
				logger.Warn("dangling_user_chat_ref", "user", user, "conversation", cid)
				continue
			}
			return nil, err
		}
		if conv.HasParticipant(user) {
			out = append(out, conv)
		}
	}
	sortConversations(out)
	return out, nil
}

// SubscribeConversations pushes the user's full conversation list, sorted
// by last activity descending, on every index change. The returned
// disposer is idempotent.
func (s *Service) SubscribeConversations(user string, fn func([]models.Conversation), errfn func(error)) (tree.CancelFunc, error) {
	if user == "" {
		return nil, validationErr(errors.New("user id is required"))
	}
	cancel, err := s.t.Watch(userChatsPath(user), func(snap tree.Snapshot) {
		convs := make([]models.Conversation, 0, len(snap.Children))
		for cid := range snap.Children {
			conv, lerr := s.loadConversation(context.Background(), cid)
			if lerr != nil {
				continue
			}
			if conv.HasParticipant(user) {
				convs = append(convs, conv)
			}
		}
		sortConversations(convs)
		fn(convs)
	}, func(err error) {
		if errfn != nil {
			errfn(wrapTree("conversation subscription for "+user, err))
		}
	})
	if err != nil {
		return nil, wrapTree("subscribe conversations for "+user, err)
	}
	return s.track(cancel), nil
}

// SetArchived flips the user's archive flag. Archiving is a per-user
// preference; conversations are never removed.
func (s *Service) SetArchived(ctx context.Context, cid, user string, archived bool) error {
	return s.setFlag(ctx, cid, user, archived, func(c *models.Conversation, v bool) {
		if c.Archived == nil {
			c.Archived = map[string]bool{}
		}
		c.Archived[user] = v
	})
}

// SetMuted flips the user's mute flag.
func (s *Service) SetMuted(ctx context.Context, cid, user string, muted bool) error {
	return s.setFlag(ctx, cid, user, muted, func(c *models.Conversation, v bool) {
		if c.Muted == nil {
			c.Muted = map[string]bool{}
		}
		c.Muted[user] = v
	})
}

func (s *Service) setFlag(ctx context.Context, cid, user string, v bool, apply func(*models.Conversation, bool)) error {
	conv, err := s.loadConversation(ctx, cid)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(user) {
		return fmt.Errorf("%w: %s is not a participant of %s", ErrPermission, user, cid)
	}
	apply(&conv, v)
	conv.UpdatedTS = s.t.Now()
	if err := s.t.Put(ctx, metaPath(cid), conv); err != nil {
		return wrapTree("update conversation "+cid, err)
	}
	return nil
}

func (s *Service) loadConversation(ctx context.Context, cid string) (models.Conversation, error) {
	var conv models.Conversation
	data, err := s.t.Get(ctx, metaPath(cid))
	if err != nil {
		return conv, wrapTree("conversation "+cid, err)
	}
	if err := json.Unmarshal(data, &conv); err != nil {
		return conv, fmt.Errorf("%w: conversation %s: corrupt record: %v", ErrTransport, cid, err)
	}
	return conv, nil
}

func sortConversations(convs []models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].LastMessageTS != convs[j].LastMessageTS {
			return convs[i].LastMessageTS > convs[j].LastMessageTS
		}
		return convs[i].ID < convs[j].ID
	})
}
