package chat

import (
	"context"
	"errors"
	"fmt"

	"eventsnap/pkg/logger"
	"eventsnap/pkg/models"
	"eventsnap/pkg/telemetry"
)

// Unread counters live inside the conversation record and are mutated as
// read-modify-write: load the record, bump the map, write it back. Two
// concurrent senders can read the same base value and lose one increment.
// That race is inherent to the storage primitive (no cross-client
// transaction spans the two round trips) and is documented rather than
// hidden: suspected lost updates are logged and counted.

func (s *Service) incrementUnread(conv *models.Conversation, user string) {
	if conv.UnreadCount == nil {
		conv.UnreadCount = map[string]int{}
	}
	conv.UnreadCount[user]++
}

func (s *Service) decrementUnread(conv *models.Conversation, user string) {
	if conv.UnreadCount == nil {
		conv.UnreadCount = map[string]int{}
	}
	cur := conv.UnreadCount[user]
	if cur <= 0 {
		// a decrement with nothing to decrement means an earlier
		// increment never landed, or a reset raced past us
		telemetry.UnreadLostUpdateSuspects.Inc()
		logger.Warn("unread_lost_update_suspect", "conversation", conv.ID, "user", user)
		conv.UnreadCount[user] = 0
		return
	}
	conv.UnreadCount[user] = cur - 1
}

func (s *Service) resetUnread(conv *models.Conversation, user string) {
	if conv.UnreadCount == nil {
		conv.UnreadCount = map[string]int{}
	}
	conv.UnreadCount[user] = 0
}

// ResetUnread zeroes the user's counter for a conversation. Used by the
// open-conversation flow, where everything visible is considered read.
func (s *Service) ResetUnread(ctx context.Context, cid, user string) error {
	if user == "" {
		return validationErr(errors.New("user id is required"))
	}
	conv, err := s.loadConversation(ctx, cid)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(user) {
		return fmt.Errorf("%w: %s is not a participant of %s", ErrPermission, user, cid)
	}
	s.resetUnread(&conv, user)
	conv.UpdatedTS = s.t.Now()
	if err := s.t.Put(ctx, metaPath(cid), conv); err != nil {
		return wrapTree("reset unread in "+cid, err)
	}
	logger.Debug("unread_reset", "conversation", cid, "user", user)
	return nil
}
