// Package natskv implements the room-state store on top of a NATS
// JetStream KeyValue bucket. Each room document lives under a single KV
// key (the room code), so the bucket's revision numbers give us both the
// per-room write ordering guarantee and the compare-and-set primitive:
// every path-level mutation is a revision-guarded rewrite of the room
// document.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzroom/internal/store"
)

// Config holds configuration for the KV-backed store.
type Config struct {
	Bucket      string
	Description string
	TTL         time.Duration // idle-room GC handled by the bucket, 0 disables
	MaxRetries  int           // revision-conflict retries for unconditional writes
}

// DefaultConfig returns the default bucket configuration.
func DefaultConfig() Config {
	return Config{
		Bucket:      "rooms",
		Description: "buzzroom replicated room state",
		MaxRetries:  16,
	}
}

// Store is a store.Store backed by a JetStream KeyValue bucket.
type Store struct {
	kv     jetstream.KeyValue
	config Config
}

// New creates (or binds to) the KV bucket on an existing NATS connection.
func New(ctx context.Context, nc *nats.Conn, config Config) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: config.Description,
		TTL:         config.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create KV bucket %q: %w", config.Bucket, err)
	}
	log.Info().Str("bucket", config.Bucket).Msg("bound room-state KV bucket")
	return &Store{kv: kv, config: config}, nil
}

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	key, subpath, err := splitKey(path)
	if err != nil {
		return nil, err
	}
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	doc, err := decodeDoc(entry.Value())
	if err != nil {
		return nil, err
	}
	val, ok := lookup(doc, subpath)
	if !ok {
		return nil, store.ErrNotFound
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal value at %s: %w", path, err)
	}
	return data, nil
}

func (s *Store) Update(ctx context.Context, values map[string]any) error {
	key := ""
	type change struct {
		subpath []string
		val     any
	}
	changes := make([]change, 0, len(values))
	for path, val := range values {
		k, subpath, err := splitKey(path)
		if err != nil {
			return err
		}
		if key != "" && k != key {
			return fmt.Errorf("%w: multi-key update spans rooms %s and %s", store.ErrBadPath, key, k)
		}
		key = k
		norm, err := normalize(val)
		if err != nil {
			return fmt.Errorf("normalize value for %s: %w", path, err)
		}
		changes = append(changes, change{subpath: subpath, val: norm})
	}
	if key == "" {
		return store.ErrBadPath
	}

	// Whole-room delete short-circuits the CAS loop.
	if len(changes) == 1 && len(changes[0].subpath) == 0 && changes[0].val == nil {
		if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("kv delete %s: %w", key, err)
		}
		return nil
	}

	return s.mutate(ctx, key, func(doc map[string]any) (map[string]any, error) {
		for _, ch := range changes {
			if len(ch.subpath) == 0 {
				node, ok := ch.val.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%w: room document must be an object", store.ErrBadPath)
				}
				doc = node
				continue
			}
			if ch.val == nil {
				remove(doc, ch.subpath)
			} else {
				set(doc, ch.subpath, ch.val)
			}
		}
		return doc, nil
	})
}

func (s *Store) CompareAndSet(ctx context.Context, path string, expected, value any) (bool, error) {
	key, subpath, err := splitKey(path)
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

	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				if len(subpath) == 0 && expNorm == nil {
					// Claiming a fresh room code.
					data, err := json.Marshal(valNorm)
					if err != nil {
						return false, fmt.Errorf("marshal value for %s: %w", path, err)
					}
					if _, err := s.kv.Create(ctx, key, data); err != nil {
						if errors.Is(err, jetstream.ErrKeyExists) {
							return false, nil
						}
						return false, fmt.Errorf("kv create %s: %w", key, err)
					}
					return true, nil
				}
				return false, store.ErrNotFound
			}
			return false, fmt.Errorf("kv get %s: %w", key, err)
		}

		doc, err := decodeDoc(entry.Value())
		if err != nil {
			return false, err
		}
		cur, exists := lookup(doc, subpath)
		if expNorm == nil {
			if exists {
				return false, nil
			}
		} else if !exists || !reflect.DeepEqual(cur, expNorm) {
			return false, nil
		}

		if len(subpath) == 0 {
			if valNorm == nil {
				if err := s.kv.Delete(ctx, key); err != nil {
					return false, fmt.Errorf("kv delete %s: %w", key, err)
				}
				return true, nil
			}
			node, ok := valNorm.(map[string]any)
			if !ok {
				return false, fmt.Errorf("%w: room document must be an object", store.ErrBadPath)
			}
			doc = node
		} else if valNorm == nil {
			remove(doc, subpath)
		} else {
			set(doc, subpath, valNorm)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return false, fmt.Errorf("marshal document %s: %w", key, err)
		}
		if _, err := s.kv.Update(ctx, key, data, entry.Revision()); err != nil {
			if !isRevisionConflict(err) {
				return false, fmt.Errorf("kv update %s: %w", key, err)
			}
			// Revision moved under us; re-read and re-check the precondition.
			log.Debug().Str("key", key).Int("attempt", attempt).Msg("CAS revision conflict, retrying")
			continue
		}
		return true, nil
	}
	return false, fmt.Errorf("compare-and-set %s: retries exhausted", path)
}

func (s *Store) Increment(ctx context.Context, path string, delta int) (int, error) {
	key, subpath, err := splitKey(path)
	if err != nil {
		return 0, err
	}
	result := 0
	err = s.mutate(ctx, key, func(doc map[string]any) (map[string]any, error) {
		cur := 0
		if val, exists := lookup(doc, subpath); exists {
			num, ok := val.(float64)
			if !ok {
				return nil, fmt.Errorf("increment at %s: value is not numeric", path)
			}
			cur = int(num)
		}
		result = cur + delta
		set(doc, subpath, float64(result))
		return doc, nil
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

// mutate runs a read-modify-write cycle on one room document, retrying
// on revision conflicts.
func (s *Store) mutate(ctx context.Context, key string, fn func(map[string]any) (map[string]any, error)) error {
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				doc, err := fn(make(map[string]any))
				if err != nil {
					return err
				}
				data, err := json.Marshal(doc)
				if err != nil {
					return fmt.Errorf("marshal document %s: %w", key, err)
				}
				if _, err := s.kv.Create(ctx, key, data); err != nil {
					if errors.Is(err, jetstream.ErrKeyExists) {
						continue
					}
					return fmt.Errorf("kv create %s: %w", key, err)
				}
				return nil
			}
			return fmt.Errorf("kv get %s: %w", key, err)
		}

		doc, err := decodeDoc(entry.Value())
		if err != nil {
			return err
		}
		doc, err = fn(doc)
		if err != nil {
			return err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", key, err)
		}
		if _, err := s.kv.Update(ctx, key, data, entry.Revision()); err != nil {
			if !isRevisionConflict(err) {
				return fmt.Errorf("kv update %s: %w", key, err)
			}
			log.Debug().Str("key", key).Int("attempt", attempt).Msg("update revision conflict, retrying")
			continue
		}
		return nil
	}
	return fmt.Errorf("update %s: retries exhausted", key)
}

func (s *Store) Watch(ctx context.Context, path string) (store.Watcher, error) {
	key, subpath, err := splitKey(path)
	if err != nil {
		return nil, err
	}
	kw, err := s.kv.Watch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", key, err)
	}

	w := &kvWatcher{
		inner: kw,
		out:   make(chan store.Snapshot),
		stop:  make(chan struct{}),
	}
	go w.run(subpath)
	return w, nil
}

type kvWatcher struct {
	inner    jetstream.KeyWatcher
	out      chan store.Snapshot
	stop     chan struct{}
	stopOnce sync.Once
}

func (w *kvWatcher) Updates() <-chan store.Snapshot { return w.out }

func (w *kvWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.inner.Stop()
	})
}

func (w *kvWatcher) run(subpath []string) {
	defer close(w.out)

	delivered := false
	for entry := range w.inner.Updates() {
		if entry == nil {
			// Initial replay complete. If the key was absent we still owe
			// the subscriber one authoritative "absent" snapshot.
			if !delivered {
				delivered = true
				if !w.deliver(store.Snapshot{Exists: false}) {
					return
				}
			}
			continue
		}
		snap := store.Snapshot{}
		switch entry.Operation() {
		case jetstream.KeyValuePut:
			doc, err := decodeDoc(entry.Value())
			if err != nil {
				log.Error().Err(err).Str("key", entry.Key()).Msg("dropping undecodable room snapshot")
				continue
			}
			val, ok := lookup(doc, subpath)
			if ok {
				data, err := json.Marshal(val)
				if err != nil {
					continue
				}
				snap = store.Snapshot{Value: data, Exists: true}
			}
		case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
			// Exists stays false.
		}
		delivered = true
		if !w.deliver(snap) {
			return
		}
	}
}

// deliver hands a snapshot to the subscriber without parking forever: a
// watcher stopped while a delivery is in flight must still let this
// goroutine exit.
func (w *kvWatcher) deliver(snap store.Snapshot) bool {
	select {
	case w.out <- snap:
		return true
	case <-w.stop:
		return false
	}
}

// isRevisionConflict reports whether a kv.Update failure means the key's
// revision moved under us (retry with a fresh read) rather than a
// transport or server error (surface immediately).
func isRevisionConflict(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return false
}

// splitKey maps a path onto (KV key, subpath within the room document).
// The first segment is the namespace ("rooms"), the second is the room
// code, anything further addresses inside the document.
func splitKey(path string) (string, []string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", nil, store.ErrBadPath
	}
	segs := strings.Split(trimmed, "/")
	if len(segs) < 2 || segs[0] != "rooms" {
		return "", nil, store.ErrBadPath
	}
	for _, s := range segs {
		if s == "" {
			return "", nil, store.ErrBadPath
		}
	}
	return segs[1], segs[2:], nil
}

func decodeDoc(data []byte) (map[string]any, error) {
	doc := make(map[string]any)
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode room document: %w", err)
	}
	return doc, nil
}

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

func lookup(doc map[string]any, segs []string) (any, bool) {
	var cur any = doc
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

func set(doc map[string]any, segs []string, val any) {
	node := doc
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

func remove(doc map[string]any, segs []string) {
	if len(segs) == 0 {
		return
	}
	node := doc
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		node = child
	}
	delete(node, segs[len(segs)-1])
}
