package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// MemStore is an in-process Store backed by a plain JSON document tree.
// It is used by tests and by embedded single-process deployments. All
// operations are serialized behind one mutex, which trivially satisfies
// the atomic multi-key update and compare-and-set contracts.
type MemStore struct {
	mu       sync.Mutex
	root     map[string]any
	watchers map[*memWatcher]struct{}
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		root:     make(map[string]any),
		watchers: make(map[*memWatcher]struct{}),
	}
}

func (m *MemStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	val, ok := lookup(m.root, segs)
	if !ok {
		return nil, ErrNotFound
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal value at %s: %w", path, err)
	}
	return data, nil
}

func (m *MemStore) Update(ctx context.Context, values map[string]any) error {
	type change struct {
		segs []string
		val  any
	}
	changes := make([]change, 0, len(values))
	for path, val := range values {
		segs, err := splitPath(path)
		if err != nil {
			return err
		}
		norm, err := normalize(val)
		if err != nil {
			return fmt.Errorf("normalize value for %s: %w", path, err)
		}
		changes = append(changes, change{segs: segs, val: norm})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range changes {
		if ch.val == nil {
			remove(m.root, ch.segs)
		} else {
			set(m.root, ch.segs, ch.val)
		}
	}
	for _, ch := range changes {
		m.notifyLocked(ch.segs)
	}
	return nil
}

func (m *MemStore) CompareAndSet(ctx context.Context, path string, expected, value any) (bool, error) {
	segs, err := splitPath(path)
	if err != nil {
		return false, err
	}
	expNorm, err := normalize(expected)
	if err != nil {
		return false, fmt.Errorf("normalize expected value for %s: %w", path, err)
	}
	valNorm, err := normalize(value)
	if err != nil {
		return false, fmt.Errorf("normalize value for %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Writes inside a room require the room document to exist; only the
	// room node itself can be created by an absent-precondition write.
	if len(segs) > 2 {
		if _, ok := lookup(m.root, segs[:2]); !ok {
			return false, ErrNotFound
		}
	}

	cur, exists := lookup(m.root, segs)
	if expNorm == nil {
		if exists {
			return false, nil
		}
	} else {
		if len(segs) <= 2 && !exists {
			return false, ErrNotFound
		}
		if !exists || !reflect.DeepEqual(cur, expNorm) {
			return false, nil
		}
	}

	if valNorm == nil {
		remove(m.root, segs)
	} else {
		set(m.root, segs, valNorm)
	}
	m.notifyLocked(segs)
	return true, nil
}

func (m *MemStore) Increment(ctx context.Context, path string, delta int) (int, error) {
	segs, err := splitPath(path)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := 0
	if val, exists := lookup(m.root, segs); exists {
		num, ok := val.(float64)
		if !ok {
			return 0, fmt.Errorf("increment at %s: value is not numeric", path)
		}
		cur = int(num)
	}
	next := cur + delta
	set(m.root, segs, float64(next))
	m.notifyLocked(segs)
	return next, nil
}

func (m *MemStore) Watch(ctx context.Context, path string) (Watcher, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	w := &memWatcher{
		store:  m,
		segs:   segs,
		out:    make(chan Snapshot),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.watchers[w] = struct{}{}
	w.publish(m.snapshotLocked(segs))
	m.mu.Unlock()

	go w.run()
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				w.Stop()
			case <-w.done:
			}
		}()
	}
	return w, nil
}

// snapshotLocked builds the current snapshot of the subtree at segs.
func (m *MemStore) snapshotLocked(segs []string) Snapshot {
	val, ok := lookup(m.root, segs)
	if !ok {
		return Snapshot{Exists: false}
	}
	data, err := json.Marshal(val)
	if err != nil {
		return Snapshot{Exists: false}
	}
	return Snapshot{Value: data, Exists: true}
}

// notifyLocked pushes fresh snapshots to every watcher whose path
// overlaps the changed path.
func (m *MemStore) notifyLocked(changed []string) {
	for w := range m.watchers {
		if pathsOverlap(w.segs, changed) {
			w.publish(m.snapshotLocked(w.segs))
		}
	}
}

func (m *MemStore) dropWatcher(w *memWatcher) {
	m.mu.Lock()
	delete(m.watchers, w)
	m.mu.Unlock()
}

// memWatcher coalesces snapshots: a slow consumer always receives the
// newest snapshot next, never a stale one.
type memWatcher struct {
	store *MemStore
	segs  []string
	out   chan Snapshot

	mu     sync.Mutex
	latest Snapshot
	dirty  bool

	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (w *memWatcher) Updates() <-chan Snapshot { return w.out }

func (w *memWatcher) Stop() {
	w.stopOnce.Do(func() {
		w.store.dropWatcher(w)
		close(w.done)
	})
}

func (w *memWatcher) publish(snap Snapshot) {
	w.mu.Lock()
	w.latest = snap
	w.dirty = true
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *memWatcher) run() {
	defer close(w.out)
	for {
		select {
		case <-w.done:
			return
		case <-w.notify:
		}
		for {
			w.mu.Lock()
			if !w.dirty {
				w.mu.Unlock()
				break
			}
			snap := w.latest
			w.dirty = false
			w.mu.Unlock()

			select {
			case w.out <- snap:
			case <-w.done:
				return
			}
		}
	}
}

// splitPath validates and splits a slash-separated path.
func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, ErrBadPath
	}
	segs := strings.Split(trimmed, "/")
	for _, s := range segs {
		if s == "" {
			return nil, ErrBadPath
		}
	}
	return segs, nil
}

// pathsOverlap reports whether one path is a segment-wise prefix of the
// other, i.e. a change at one is visible from a watch at the other.
func pathsOverlap(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// normalize round-trips a value through JSON so stored values and
// compare-and-set expectations share one canonical representation.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func lookup(root map[string]any, segs []string) (any, bool) {
	var cur any = root
	for _, seg := range segs {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func set(root map[string]any, segs []string, val any) {
	node := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = val
}

func remove(root map[string]any, segs []string) {
	node := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		node = child
	}
	delete(node, segs[len(segs)-1])
}
