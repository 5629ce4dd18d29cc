package natskv

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mcdev12/buzzroom/internal/store"
)

func TestSplitKey(t *testing.T) {
	tests := []struct {
		path    string
		key     string
		subpath []string
		wantErr bool
	}{
		{path: "rooms/4821", key: "4821"},
		{path: "rooms/4821/winnerInfo", key: "4821", subpath: []string{"winnerInfo"}},
		{path: "/rooms/4821/players/leo_1/points/", key: "4821", subpath: []string{"players", "leo_1", "points"}},
		{path: "", wantErr: true},
		{path: "rooms", wantErr: true},
		{path: "lobbies/4821", wantErr: true},
		{path: "rooms//winnerInfo", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			key, subpath, err := splitKey(tt.path)
			if tt.wantErr {
				if !errors.Is(err, store.ErrBadPath) {
					t.Fatalf("err = %v, want ErrBadPath", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("splitKey(%q): %v", tt.path, err)
			}
			if key != tt.key {
				t.Fatalf("key = %q, want %q", key, tt.key)
			}
			if diff := cmp.Diff(tt.subpath, subpath, cmp.Transformer("empty", func(s []string) []string {
				if len(s) == 0 {
					return nil
				}
				return s
			})); diff != "" {
				t.Fatalf("subpath mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDocumentMutation(t *testing.T) {
	doc, err := decodeDoc([]byte(`{"hostName":"Ana","players":{"ana_1":{"points":0}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	set(doc, []string{"players", "leo_1", "points"}, float64(10))
	got, ok := lookup(doc, []string{"players", "leo_1", "points"})
	if !ok || got != float64(10) {
		t.Fatalf("lookup after set = %v, %v", got, ok)
	}

	// Looking through a scalar fails cleanly instead of panicking.
	if _, ok := lookup(doc, []string{"hostName", "deeper"}); ok {
		t.Fatal("lookup through scalar succeeded")
	}

	remove(doc, []string{"players", "leo_1"})
	if _, ok := lookup(doc, []string{"players", "leo_1"}); ok {
		t.Fatal("entry survived remove")
	}
	if _, ok := lookup(doc, []string{"players", "ana_1", "points"}); !ok {
		t.Fatal("sibling entry lost during remove")
	}
}

func TestDecodeDocEmpty(t *testing.T) {
	doc, err := decodeDoc(nil)
	if err != nil {
		t.Fatalf("decode nil: %v", err)
	}
	if len(doc) != 0 {
		t.Fatalf("doc = %v, want empty", doc)
	}
}

func TestNormalizeStructsToPlainJSON(t *testing.T) {
	type winner struct {
		PlayerID string `json:"playerId"`
	}
	got, err := normalize(winner{PlayerID: "leo_1"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := map[string]any{"playerId": "leo_1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("normalized value mismatch (-want +got):\n%s", diff)
	}

	if got, err := normalize(nil); err != nil || got != nil {
		t.Fatalf("normalize(nil) = %v, %v", got, err)
	}
}

type fakeEntry struct {
	key   string
	value []byte
	op    jetstream.KeyValueOp
}

func (e *fakeEntry) Bucket() string               { return "rooms" }
func (e *fakeEntry) Key() string                  { return e.key }
func (e *fakeEntry) Value() []byte                { return e.value }
func (e *fakeEntry) Revision() uint64             { return 1 }
func (e *fakeEntry) Created() time.Time           { return time.Time{} }
func (e *fakeEntry) Delta() uint64                { return 0 }
func (e *fakeEntry) Operation() jetstream.KeyValueOp { return e.op }

type fakeKeyWatcher struct {
	ch       chan jetstream.KeyValueEntry
	stopOnce sync.Once
}

func (f *fakeKeyWatcher) Updates() <-chan jetstream.KeyValueEntry { return f.ch }

func (f *fakeKeyWatcher) Stop() error {
	f.stopOnce.Do(func() { close(f.ch) })
	return nil
}

func TestWatcherDeliversRoomSnapshots(t *testing.T) {
	fake := &fakeKeyWatcher{ch: make(chan jetstream.KeyValueEntry, 4)}
	// Initial replay marker with nothing delivered yet means the key is
	// absent right now.
	fake.ch <- nil
	fake.ch <- &fakeEntry{key: "4821", value: []byte(`{"hostName":"Ana"}`), op: jetstream.KeyValuePut}
	fake.ch <- &fakeEntry{key: "4821", op: jetstream.KeyValueDelete}
	fake.Stop()

	w := &kvWatcher{inner: fake, out: make(chan store.Snapshot), stop: make(chan struct{})}
	go w.run(nil)
	defer w.Stop()

	var snaps []store.Snapshot
	for snap := range w.Updates() {
		snaps = append(snaps, snap)
	}
	want := []store.Snapshot{
		{Exists: false},
		{Value: []byte(`{"hostName":"Ana"}`), Exists: true},
		{Exists: false},
	}
	if diff := cmp.Diff(want, snaps); diff != "" {
		t.Fatalf("snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcherStopUnblocksPendingDelivery(t *testing.T) {
	fake := &fakeKeyWatcher{ch: make(chan jetstream.KeyValueEntry, 1)}
	fake.ch <- &fakeEntry{key: "4821", value: []byte(`{"hostName":"Ana"}`), op: jetstream.KeyValuePut}

	w := &kvWatcher{inner: fake, out: make(chan store.Snapshot), stop: make(chan struct{})}
	go w.run(nil)

	// Nobody is reading, so the delivery is parked on the unbuffered
	// channel. Stopping the watcher must still let run exit and close out.
	time.Sleep(20 * time.Millisecond)
	w.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watcher goroutine did not exit after Stop")
		}
	}
}

func TestIsRevisionConflict(t *testing.T) {
	conflict := &jetstream.APIError{
		Code:      400,
		ErrorCode: jetstream.JSErrCodeStreamWrongLastSequence,
	}
	if !isRevisionConflict(conflict) {
		t.Fatal("wrong-last-sequence not treated as revision conflict")
	}
	if !isRevisionConflict(fmt.Errorf("kv update 4821: %w", conflict)) {
		t.Fatal("wrapped wrong-last-sequence not treated as revision conflict")
	}
	if isRevisionConflict(errors.New("nats: connection closed")) {
		t.Fatal("transport error misclassified as revision conflict")
	}
	other := &jetstream.APIError{Code: 404, ErrorCode: jetstream.JSErrCodeMessageNotFound}
	if isRevisionConflict(other) {
		t.Fatal("unrelated API error misclassified as revision conflict")
	}
}
