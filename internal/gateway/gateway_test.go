package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/buzzroom/internal/room"
	"github.com/mcdev12/buzzroom/internal/store"
)

type fixture struct {
	srv *httptest.Server
	svc *room.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := room.NewService(store.NewMemStore(), clockwork.NewRealClock())
	gw := NewService(DefaultConfig(), svc)

	ctx, cancel := context.WithCancel(context.Background())
	go gw.Start(ctx)

	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &fixture{srv: srv, svc: svc}
}

func (f *fixture) dial(t *testing.T, roomCode, playerID, playerName string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") +
		"/ws/room?room_code=" + roomCode + "&player_id=" + playerID
	if playerName != "" {
		url += "&player_name=" + playerName
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v (resp %+v)", url, err, resp)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *RoomEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var event RoomEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode event: %v (%s)", err, data)
	}
	return &event
}

// readUntil scans the event stream for the first event of the wanted
// type; snapshots and command results interleave freely.
func readUntil(t *testing.T, conn *websocket.Conn, want EventType) *RoomEvent {
	t.Helper()
	for i := 0; i < 20; i++ {
		event := readEvent(t, conn)
		if event.Type == want {
			return event
		}
	}
	t.Fatalf("never received a %s event", want)
	return nil
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateAndJoinOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.srv.URL+"/rooms/create", map[string]string{"host_name": "Ana"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created createRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if len(created.RoomCode) != room.RoomCodeLength || created.PlayerID == "" {
		t.Fatalf("create response = %+v", created)
	}

	resp = postJSON(t, f.srv.URL+"/rooms/join", map[string]string{
		"room_code": created.RoomCode, "name": "Leo",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join status = %d, want 200", resp.StatusCode)
	}
	var joined joinRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&joined); err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	if joined.RoomCode != created.RoomCode || joined.PlayerID == "" {
		t.Fatalf("join response = %+v", joined)
	}
}

func TestJoinUnknownRoomIs404(t *testing.T) {
	f := newFixture(t)
	resp := postJSON(t, f.srv.URL+"/rooms/join", map[string]string{
		"room_code": "0000", "name": "Leo",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateRequiresHostName(t *testing.T) {
	f := newFixture(t)
	resp := postJSON(t, f.srv.URL+"/rooms/create", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestConnectRejectsUnknownRoom(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/room?room_code=0000&player_id=ghost_1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial to unknown room succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %+v, want 404", resp)
	}
}

func TestSnapshotDeliveredOnConnect(t *testing.T) {
	f := newFixture(t)
	code, hostID, _, err := f.svc.CreateRoom(context.Background(), "Ana")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	conn := f.dial(t, code, hostID, "")
	event := readUntil(t, conn, EventTypeRoomSnapshot)
	if event.RoomCode != code {
		t.Fatalf("event room = %q, want %q", event.RoomCode, code)
	}

	var doc room.Room
	if err := json.Unmarshal(event.Data, &doc); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !doc.HasPlayer(hostID) {
		t.Fatalf("snapshot missing host: %+v", doc.Players)
	}
}

func TestBuzzCommandRoundTrip(t *testing.T) {
	f := newFixture(t)
	code, _, _, err := f.svc.CreateRoom(context.Background(), "Ana")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	leoID, err := f.svc.JoinRoom(context.Background(), code, "Leo")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	conn := f.dial(t, code, leoID, "Leo")
	readUntil(t, conn, EventTypeRoomSnapshot)

	if err := conn.WriteJSON(ClientCommand{Action: ActionBuzz}); err != nil {
		t.Fatalf("send buzz: %v", err)
	}

	event := readUntil(t, conn, EventTypeCommandResult)
	var result CommandResult
	if err := json.Unmarshal(event.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.OK || result.Result != "Won" {
		t.Fatalf("buzz result = %+v, want OK Won", result)
	}

	// The winning buzz also shows up as a new snapshot for everyone.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		event := readUntil(t, conn, EventTypeRoomSnapshot)
		var doc room.Room
		if err := json.Unmarshal(event.Data, &doc); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if doc.WinnerInfo != nil && doc.WinnerInfo.PlayerID == leoID {
			return
		}
	}
	t.Fatal("winner never appeared in a snapshot")
}

func TestHostCommandRejectedForNonHost(t *testing.T) {
	f := newFixture(t)
	code, _, _, err := f.svc.CreateRoom(context.Background(), "Ana")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	leoID, err := f.svc.JoinRoom(context.Background(), code, "Leo")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	conn := f.dial(t, code, leoID, "Leo")
	readUntil(t, conn, EventTypeRoomSnapshot)

	if err := conn.WriteJSON(ClientCommand{Action: ActionResetBuzz}); err != nil {
		t.Fatalf("send reset: %v", err)
	}
	event := readUntil(t, conn, EventTypeCommandResult)
	var result CommandResult
	if err := json.Unmarshal(event.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.OK {
		t.Fatalf("non-host reset accepted: %+v", result)
	}
	if result.Error != room.ErrNotHost.Error() {
		t.Fatalf("error = %q, want %q", result.Error, room.ErrNotHost.Error())
	}
}

func TestHostCommandOverWebSocket(t *testing.T) {
	f := newFixture(t)
	code, hostID, _, err := f.svc.CreateRoom(context.Background(), "Ana")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	conn := f.dial(t, code, hostID, "Ana")
	readUntil(t, conn, EventTypeRoomSnapshot)

	if err := conn.WriteJSON(ClientCommand{Action: ActionStartTimer, TotalSec: 30}); err != nil {
		t.Fatalf("send start_timer: %v", err)
	}
	event := readUntil(t, conn, EventTypeCommandResult)
	var result CommandResult
	if err := json.Unmarshal(event.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.OK {
		t.Fatalf("host start_timer rejected: %+v", result)
	}

	doc, err := f.svc.GetRoom(context.Background(), code)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if doc.GameTimer == nil || doc.GameTimer.TotalSec != 30 {
		t.Fatalf("timer = %+v, want 30s countdown", doc.GameTimer)
	}
}

func TestRoomClosedBroadcastOnDelete(t *testing.T) {
	f := newFixture(t)
	code, _, token, err := f.svc.CreateRoom(context.Background(), "Ana")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	leoID, err := f.svc.JoinRoom(context.Background(), code, "Leo")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	conn := f.dial(t, code, leoID, "Leo")
	readUntil(t, conn, EventTypeRoomSnapshot)

	if err := f.svc.DeleteRoom(context.Background(), token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	event := readUntil(t, conn, EventTypeRoomClosed)
	if event.RoomCode != code {
		t.Fatalf("closed event room = %q, want %q", event.RoomCode, code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	code, hostID, _, err := f.svc.CreateRoom(context.Background(), "Ana")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	conn := f.dial(t, code, hostID, "Ana")
	readUntil(t, conn, EventTypeRoomSnapshot)

	resp, err := http.Get(f.srv.URL + "/ws/stats")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", resp.StatusCode)
	}
	var stats map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["service"] != "room_gateway" {
		t.Fatalf("stats service = %v, want room_gateway", stats["service"])
	}
	if total, ok := stats["total_connections"].(float64); !ok || total < 1 {
		t.Fatalf("total_connections = %v, want at least 1", stats["total_connections"])
	}
}

func TestCommandResultReachesAllPlayerConnections(t *testing.T) {
	f := newFixture(t)
	code, _, _, err := f.svc.CreateRoom(context.Background(), "Ana")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	leoID, err := f.svc.JoinRoom(context.Background(), code, "Leo")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	// Same player in two tabs. Only the first connection sees the initial
	// snapshot (the feed emits on changes once the room is watched), so
	// the second is not drained before the command.
	conn1 := f.dial(t, code, leoID, "Leo")
	readUntil(t, conn1, EventTypeRoomSnapshot)
	conn2 := f.dial(t, code, leoID, "Leo")

	if err := conn1.WriteJSON(ClientCommand{Action: ActionBuzz}); err != nil {
		t.Fatalf("send buzz: %v", err)
	}

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		event := readUntil(t, conn, EventTypeCommandResult)
		var result CommandResult
		if err := json.Unmarshal(event.Data, &result); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if !result.OK || result.Result != "Won" {
			t.Fatalf("buzz result = %+v, want OK Won", result)
		}
	}
}
