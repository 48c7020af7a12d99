// Package chat implements the realtime messaging core: the per-
// conversation message log with its delivery-status machine, typing
// presence with automatic expiry, unread-count bookkeeping and the
// per-user conversation index, all over a tree.Tree.
package chat

import (
	"encoding/json"
	"sync"
	"time"

	"eventsnap/pkg/telemetry"
	"eventsnap/pkg/tree"
	"eventsnap/pkg/validation"
)

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	// PageSize bounds message subscriptions (most-recent-first at the
	// source, re-sorted ascending for delivery). Default 50.
	PageSize int
	// TypingTTL is how long a typing flag lives without a refresh.
	// Default 3s.
	TypingTTL time.Duration
	// Limits bounds message content by type.
	Limits validation.Limits
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 3 * time.Second
	}
	if o.Limits == (validation.Limits{}) {
		o.Limits = validation.DefaultLimits()
	}
	return o
}

// Service is the messaging core. It holds no shared mutable state beyond
// the disposer and typing-timer registries, both keyed by composite ids
// and cleaned up on unsubscribe or Close. Construct one per tree handle
// and pass it down explicitly.
type Service struct {
	t   tree.Tree
	opt Options

	seq uint64 // message id sequence

	mu      sync.Mutex
	subs    map[uint64]tree.CancelFunc // active subscription disposers
	subSeq  uint64
	typing  map[string]*typingEntry // keyed by conversation+"/"+user
	closed  bool
	monitor *Monitor
}

// NewService builds a Service over t.
func NewService(t tree.Tree, opt Options) *Service {
	return &Service{
		t:       t,
		opt:     opt.withDefaults(),
		subs:    map[uint64]tree.CancelFunc{},
		typing:  map[string]*typingEntry{},
		monitor: &Monitor{t: t},
	}
}

// Monitor returns the connection monitor for this service's tree.
func (s *Service) Monitor() *Monitor { return s.monitor }

// Close cancels every live subscription and typing timer. The tree is
// owned by the caller and is not closed here.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancels := make([]tree.CancelFunc, 0, len(s.subs))
	for _, c := range s.subs {
		cancels = append(cancels, c)
	}
	s.subs = map[uint64]tree.CancelFunc{}
	entries := make([]*typingEntry, 0, len(s.typing))
	for _, e := range s.typing {
		entries = append(entries, e)
	}
	s.typing = map[string]*typingEntry{}
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	for _, e := range entries {
		e.stop()
	}
}

// track registers a subscription disposer and returns a wrapped cancel
// that detaches the watch and forgets the registry entry. Idempotent.
func (s *Service) track(cancel tree.CancelFunc) tree.CancelFunc {
	s.mu.Lock()
	s.subSeq++
	id := s.subSeq
	s.subs[id] = cancel
	s.mu.Unlock()
	telemetry.SubscriptionsActive.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			telemetry.SubscriptionsActive.Dec()
			cancel()
		})
	}
}

func jsonUnmarshal(data []byte, v any) bool { return json.Unmarshal(data, v) == nil }
