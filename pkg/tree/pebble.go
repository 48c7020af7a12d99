package tree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"eventsnap/pkg/logger"
)

// Store is a pebble-backed Tree. Paths map directly to keys; subtree
// reads are prefix scans over "<path>/". The handle is owned by whoever
// constructs it and passed down explicitly.
type Store struct {
	db     *pebble.DB
	dbPath string

	closed    atomic.Bool
	connected atomic.Bool

	notify *notifier

	hookMu   sync.Mutex
	hookSeq  uint64
	hooks    map[uint64]string
	connSubs map[uint64]func(bool)
}

// Open opens (or creates) a pebble database at path and starts the
// watch dispatcher.
func Open(path string) (*Store, error) {
	logger.Info("opening_tree_store", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("tree_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("%w: open %s: %v", ErrClosed, path, err)
	}
	s := &Store{
		db:       db,
		dbPath:   path,
		hooks:    map[uint64]string{},
		connSubs: map[uint64]func(bool){},
	}
	s.notify = newNotifier(s)
	s.connected.Store(true)
	logger.Info("tree_store_opened", "path", path)
	return s, nil
}

// Close runs disconnect hooks, flips the connectivity flag and releases
// the database. Idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.runDisconnectHooks()
	s.setConnected(false)
	s.notify.stopAll()
	if err := s.db.Close(); err != nil {
		return err
	}
	logger.Info("tree_store_closed", "path", s.dbPath)
	return nil
}

// Ready reports whether the store is usable.
func (s *Store) Ready() bool { return !s.closed.Load() }

// Now returns the server timestamp (UTC nanoseconds). With an embedded
// store the local clock is the authoritative one.
func (s *Store) Now() int64 { return time.Now().UTC().UnixNano() }

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	if err := s.check(ctx, path); err != nil {
		return nil, err
	}
	if path == ConnectedPath {
		return json.Marshal(s.Connected())
	}
	return s.getRaw(path)
}

func (s *Store) getRaw(path string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(path))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNoNode
		}
		return nil, fmt.Errorf("tree get %s: %w", path, err)
	}
	defer closer.Close()
	out := append([]byte(nil), v...)
	return out, nil
}

func (s *Store) Put(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

func (s *Store) Update(ctx context.Context, updates map[string]any) error {
	if err := s.check(ctx, ""); err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	paths := make([]string, 0, len(updates))
	for path, value := range updates {
		if !validPath(path) || path == ConnectedPath {
			return fmt.Errorf("%w: %q", ErrBadPath, path)
		}
		if value == nil {
			if err := b.Delete([]byte(path), nil); err != nil {
				return fmt.Errorf("tree delete %s: %w", path, err)
			}
		} else {
			data, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("tree marshal %s: %w", path, err)
			}
			if err := b.Set([]byte(path), data, nil); err != nil {
				return fmt.Errorf("tree set %s: %w", path, err)
			}
		}
		paths = append(paths, path)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("tree_commit_failed", "paths", len(paths), "error", err)
		return fmt.Errorf("tree commit: %w", err)
	}
	s.notify.changed(paths)
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.Update(ctx, map[string]any{path: nil})
}

func (s *Store) Children(ctx context.Context, path string) (map[string][]byte, error) {
	if err := s.check(ctx, path); err != nil {
		return nil, err
	}
	return s.childrenRaw(path)
}

func (s *Store) childrenRaw(path string) (map[string][]byte, error) {
	prefix := path + "/"
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("tree iter: %w", err)
	}
	defer iter.Close()
	out := map[string][]byte{}
	for iter.SeekGE([]byte(prefix)); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !strings.HasPrefix(k, prefix) {
			break
		}
		name := k[len(prefix):]
		// only direct children; deeper descendants belong to nested watches
		if strings.Contains(name, "/") {
			continue
		}
		out[name] = append([]byte(nil), iter.Value()...)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("tree scan %s: %w", path, err)
	}
	return out, nil
}

// CountPrefix counts keys under prefix, optionally only those ending in
// suffix. Used by the admin stats surface.
func (s *Store) CountPrefix(ctx context.Context, prefix, suffix string) (int, error) {
	if err := s.check(ctx, ""); err != nil {
		return 0, err
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, fmt.Errorf("tree iter: %w", err)
	}
	defer iter.Close()
	count := 0
	for iter.SeekGE([]byte(prefix)); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !strings.HasPrefix(k, prefix) {
			break
		}
		if suffix == "" || strings.HasSuffix(k, suffix) {
			count++
		}
	}
	return count, iter.Error()
}

// ScanPrefix returns every key under prefix, optionally filtered to
// keys containing infix past the prefix. Values are copied out of the
// iterator.
func (s *Store) ScanPrefix(ctx context.Context, prefix, infix string) (map[string][]byte, error) {
	if err := s.check(ctx, ""); err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("tree iter: %w", err)
	}
	defer iter.Close()
	out := map[string][]byte{}
	for iter.SeekGE([]byte(prefix)); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !strings.HasPrefix(k, prefix) {
			break
		}
		if infix != "" && !strings.Contains(k[len(prefix):], infix) {
			continue
		}
		out[k] = append([]byte(nil), iter.Value()...)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("tree scan %s: %w", prefix, err)
	}
	return out, nil
}

// NotifyDropped reports snapshot pushes dropped on dispatch overflow.
func (s *Store) NotifyDropped() uint64 { return s.notify.Dropped() }

func (s *Store) Watch(path string, fn func(Snapshot), errfn func(error)) (CancelFunc, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if path == ConnectedPath {
		return s.WatchConnected(func(up bool) {
			v, _ := json.Marshal(up)
			fn(Snapshot{Path: ConnectedPath, Value: v})
		}), nil
	}
	if !validPath(path) {
		return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
	}
	return s.notify.add(path, fn, errfn), nil
}

// OnDisconnect registers path for server-side deletion when the store
// disconnects. Covers clients that vanish mid-operation and never issue
// an explicit cleanup write.
func (s *Store) OnDisconnect(path string) (CancelFunc, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if !validPath(path) || path == ConnectedPath {
		return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
	}
	s.hookMu.Lock()
	s.hookSeq++
	id := s.hookSeq
	s.hooks[id] = path
	s.hookMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.hookMu.Lock()
			delete(s.hooks, id)
			s.hookMu.Unlock()
		})
	}, nil
}

func (s *Store) Connected() bool { return s.connected.Load() }

func (s *Store) WatchConnected(fn func(bool)) CancelFunc {
	s.hookMu.Lock()
	s.hookSeq++
	id := s.hookSeq
	s.connSubs[id] = fn
	s.hookMu.Unlock()
	fn(s.Connected())
	var once sync.Once
	return func() {
		once.Do(func() {
			s.hookMu.Lock()
			delete(s.connSubs, id)
			s.hookMu.Unlock()
		})
	}
}

func (s *Store) setConnected(up bool) {
	if s.connected.Swap(up) == up {
		return
	}
	s.hookMu.Lock()
	subs := make([]func(bool), 0, len(s.connSubs))
	for _, fn := range s.connSubs {
		subs = append(subs, fn)
	}
	s.hookMu.Unlock()
	for _, fn := range subs {
		fn(up)
	}
}

func (s *Store) runDisconnectHooks() {
	s.hookMu.Lock()
	paths := make([]string, 0, len(s.hooks))
	for _, p := range s.hooks {
		paths = append(paths, p)
	}
	s.hooks = map[uint64]string{}
	s.hookMu.Unlock()
	if len(paths) == 0 {
		return
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, p := range paths {
		_ = b.Delete([]byte(p), nil)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("disconnect_hooks_failed", "count", len(paths), "error", err)
		return
	}
	logger.Info("disconnect_hooks_ran", "count", len(paths))
}

func (s *Store) check(ctx context.Context, path string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if path != "" && path != ConnectedPath && !validPath(path) {
		return fmt.Errorf("%w: %q", ErrBadPath, path)
	}
	return nil
}
