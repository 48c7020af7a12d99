package tree

import (
	"strings"
	"sync"
	"sync/atomic"

	"eventsnap/pkg/logger"
)

const notifyCapacity = 4096

// watcher is one registered subscription. pending coalesces bursts: a
// watcher sits in the dispatch queue at most once, and a change arriving
// while its snapshot is being built simply re-queues it.
type watcher struct {
	id      uint64
	path    string
	fn      func(Snapshot)
	errfn   func(error)
	pending int32
}

// notifier fans tree changes out to watchers through a bounded queue
// drained by a single dispatch goroutine, so snapshot callbacks are
// serialized and the write path never blocks on a slow consumer.
type notifier struct {
	s *Store

	mu       sync.RWMutex
	watchers map[uint64]*watcher
	seq      uint64

	ch       chan *watcher
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	dropped uint64
}

func newNotifier(s *Store) *notifier {
	n := &notifier{
		s:        s,
		watchers: map[uint64]*watcher{},
		ch:       make(chan *watcher, notifyCapacity),
		stop:     make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

func (n *notifier) add(path string, fn func(Snapshot), errfn func(error)) CancelFunc {
	n.mu.Lock()
	n.seq++
	w := &watcher{id: n.seq, path: path, fn: fn, errfn: errfn}
	n.watchers[w.id] = w
	n.mu.Unlock()

	// initial snapshot delivery
	n.schedule(w)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.watchers, w.id)
			n.mu.Unlock()
		})
	}
}

// changed schedules a snapshot push for every watcher whose path equals,
// contains, or is contained by one of the written paths.
func (n *notifier) changed(paths []string) {
	n.mu.RLock()
	var hit []*watcher
	for _, w := range n.watchers {
		for _, p := range paths {
			if p == w.path || strings.HasPrefix(p, w.path+"/") || strings.HasPrefix(w.path, p+"/") {
				hit = append(hit, w)
				break
			}
		}
	}
	n.mu.RUnlock()
	for _, w := range hit {
		n.schedule(w)
	}
}

func (n *notifier) schedule(w *watcher) {
	if !atomic.CompareAndSwapInt32(&w.pending, 0, 1) {
		return
	}
	select {
	case n.ch <- w:
	default:
		atomic.StoreInt32(&w.pending, 0)
		atomic.AddUint64(&n.dropped, 1)
		logger.Warn("tree_notify_dropped", "path", w.path)
	}
}

// Dropped returns the count of snapshot pushes dropped on queue overflow.
func (n *notifier) Dropped() uint64 { return atomic.LoadUint64(&n.dropped) }

func (n *notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stop:
			return
		case w := <-n.ch:
			// clear before building: a write landing mid-build re-queues
			atomic.StoreInt32(&w.pending, 0)
			n.deliver(w)
		}
	}
}

func (n *notifier) deliver(w *watcher) {
	n.mu.RLock()
	_, alive := n.watchers[w.id]
	n.mu.RUnlock()
	if !alive {
		return
	}
	if n.s.closed.Load() {
		if w.errfn != nil {
			w.errfn(ErrClosed)
		}
		return
	}
	snap, err := n.s.snapshotAt(w.path)
	if err != nil {
		if w.errfn != nil {
			w.errfn(err)
		}
		return
	}
	w.fn(snap)
}

func (n *notifier) stopAll() {
	n.stopOnce.Do(func() {
		close(n.stop)
	})
	n.wg.Wait()
	n.mu.Lock()
	ws := make([]*watcher, 0, len(n.watchers))
	for _, w := range n.watchers {
		ws = append(ws, w)
	}
	n.watchers = map[uint64]*watcher{}
	n.mu.Unlock()
	for _, w := range ws {
		if w.errfn != nil {
			w.errfn(ErrClosed)
		}
	}
}

// snapshotAt builds the full current view of path: the exact node value
// if present plus all direct children.
func (s *Store) snapshotAt(path string) (Snapshot, error) {
	snap := Snapshot{Path: path}
	v, err := s.getRaw(path)
	if err == nil {
		snap.Value = v
	} else if err != ErrNoNode {
		return snap, err
	}
	kids, err := s.childrenRaw(path)
	if err != nil {
		return snap, err
	}
	snap.Children = kids
	return snap, nil
}
