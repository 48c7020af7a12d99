// Package tree implements the hierarchical key-value store the chat core
// runs on: slash-separated paths, atomic multi-path writes, per-path
// snapshot-push subscriptions, server-assigned timestamps, disconnect
// cleanup hooks and a reserved connectivity flag.
package tree

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNoNode is returned when a read addresses an absent path.
	ErrNoNode = errors.New("tree: node not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("tree: store closed")
	// ErrBadPath is returned for empty or malformed paths.
	ErrBadPath = errors.New("tree: invalid path")
)

// ConnectedPath is the reserved read-only path carrying the store's
// connectivity flag as a JSON boolean.
const ConnectedPath = ".info/connected"

// Snapshot is a full view of a watched path at some point in time. The
// store pushes the entire current state on every change; consumers diff
// locally if they need increments.
type Snapshot struct {
	Path string
	// Value is the JSON-encoded node at exactly Path, nil when absent.
	Value []byte
	// Children maps direct child name -> JSON value for the subtree under
	// Path. Empty when the path has no children.
	Children map[string][]byte
}

// CancelFunc detaches a watcher or hook. Safe to call more than once.
type CancelFunc func()

// Tree is the storage primitive the chat core is built against.
type Tree interface {
	// Get returns the JSON value at path, or ErrNoNode.
	Get(ctx context.Context, path string) ([]byte, error)
	// Put marshals value as JSON and writes it at path.
	Put(ctx context.Context, path string, value any) error
	// Update applies every entry atomically: all writes become visible
	// together or not at all. A nil value deletes the path.
	Update(ctx context.Context, updates map[string]any) error
	// Delete removes the node at path. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error
	// Children returns the direct children under path.
	Children(ctx context.Context, path string) (map[string][]byte, error)
	// Watch registers fn for snapshot pushes: once immediately and then
	// after every change touching path or its subtree. Transport failures
	// are delivered to errfn; the watch is not retried.
	Watch(path string, fn func(Snapshot), errfn func(error)) (CancelFunc, error)
	// OnDisconnect schedules deletion of path when the store disconnects.
	OnDisconnect(path string) (CancelFunc, error)
	// Connected reports whether the store currently has a live connection.
	Connected() bool
	// WatchConnected calls fn with the current state and on every change.
	WatchConnected(fn func(bool)) CancelFunc
	// Now returns the server-assigned timestamp in nanoseconds.
	Now() int64
}

// Join builds a slash path from parts, dropping empties.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// validPath rejects empty paths and path segments that would collide
// with the key encoding.
func validPath(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return false
	}
	return !strings.Contains(path, "//")
}
