package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"eventsnap/pkg/logger"
	"eventsnap/pkg/models"
	"eventsnap/pkg/telemetry"
	"eventsnap/pkg/tree"
)

// typingEntry is one armed typing flag: the expiry timer plus the
// disconnect-hook cancel. Both are torn down together.
type typingEntry struct {
	timer    *time.Timer
	unhook   tree.CancelFunc
	stopOnce sync.Once
}

func (e *typingEntry) stop() {
	e.stopOnce.Do(func() {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.unhook != nil {
			e.unhook()
		}
	})
}

// SetTyping publishes or clears the user's typing flag for a
// conversation.
//
// typing=true writes the flag, registers a disconnect hook so the node
// is removed server-side if the client dies mid-type, and arms the
// expiry timer. Repeated true calls re-arm the timer; debouncing is the
// caller's job. typing=false cancels the timer and removes the node
// immediately — typing nodes are deleted, never flagged false in place.
func (s *Service) SetTyping(ctx context.Context, cid, user string, typing bool) error {
	if user == "" {
		return validationErr(errors.New("user id is required"))
	}
	key := cid + "/" + user
	if !typing {
		s.dropTypingTimer(cid, user)
		if err := s.t.Delete(ctx, typingPath(cid, user)); err != nil {
			return wrapTree("clear typing for "+user, err)
		}
		return nil
	}

	status := models.TypingStatus{User: user, Typing: true, TS: s.t.Now()}
	if err := s.t.Put(ctx, typingPath(cid, user), status); err != nil {
		return wrapTree("set typing for "+user, err)
	}

	// the entry is armed fully under the lock before it becomes visible
	// in the registry, so a concurrent refresh never sees a half-built
	// timer
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if prev, ok := s.typing[key]; ok {
		// refresh: keep the disconnect hook, re-arm the timer
		if prev.timer != nil {
			prev.timer.Reset(s.opt.TypingTTL)
		}
		return nil
	}
	entry := &typingEntry{}
	unhook, err := s.t.OnDisconnect(typingPath(cid, user))
	if err != nil {
		logger.Warn("typing_disconnect_hook_failed", "conversation", cid, "user", user, "error", err)
	} else {
		entry.unhook = unhook
	}
	entry.timer = time.AfterFunc(s.opt.TypingTTL, func() {
		s.expireTyping(cid, user)
	})
	s.typing[key] = entry
	return nil
}

// SubscribeTyping pushes the set of other users currently typing in the
// conversation. The current user is filtered out; an empty slice means
// no one else is typing. It is a set — no ordering guarantee beyond the
// stable sort applied for deterministic delivery.
func (s *Service) SubscribeTyping(cid, currentUser string, fn func([]string), errfn func(error)) (tree.CancelFunc, error) {
	cancel, err := s.t.Watch(typingRootPath(cid), func(snap tree.Snapshot) {
		users := make([]string, 0, len(snap.Children))
		for user, raw := range snap.Children {
			if user == currentUser {
				continue
			}
			var ts models.TypingStatus
			if jsonUnmarshal(raw, &ts) && ts.Typing {
				users = append(users, user)
			}
		}
		sort.Strings(users)
		fn(users)
	}, func(err error) {
		if errfn != nil {
			errfn(wrapTree("typing subscription for "+cid, err))
		}
	})
	if err != nil {
		return nil, wrapTree("subscribe typing in "+cid, err)
	}
	return s.track(cancel), nil
}

// expireTyping removes a typing node whose timer fired without a refresh
// or an explicit stop.
func (s *Service) expireTyping(cid, user string) {
	s.dropTypingTimer(cid, user)
	if err := s.t.Delete(context.Background(), typingPath(cid, user)); err != nil {
		logger.Warn("typing_expiry_delete_failed", "conversation", cid, "user", user, "error", err)
		return
	}
	telemetry.TypingExpiries.Inc()
	logger.Debug("typing_expired", "conversation", cid, "user", user)
}

// dropTypingTimer tears down the local timer and disconnect hook for a
// (conversation, user) pair, if any.
func (s *Service) dropTypingTimer(cid, user string) {
	key := cid + "/" + user
	s.mu.Lock()
	entry, ok := s.typing[key]
	if ok {
		delete(s.typing, key)
	}
	s.mu.Unlock()
	if ok {
		entry.stop()
	}
}
