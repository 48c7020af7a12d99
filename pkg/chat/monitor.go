package chat

import "eventsnap/pkg/tree"

// Monitor exposes the tree's connectivity state. Consumers poll
// IsConnected before deciding between optimistic "sending…" UI and
// queue-and-retry behavior; reconnect and backoff live in the store, not
// here.
type Monitor struct {
	t tree.Tree
}

// IsConnected reports whether the tree currently has a live connection.
func (m *Monitor) IsConnected() bool { return m.t.Connected() }

// Watch calls fn with the current connectivity state and again on every
// change. The returned disposer is idempotent.
func (m *Monitor) Watch(fn func(bool)) tree.CancelFunc {
	return m.t.WatchConnected(fn)
}
