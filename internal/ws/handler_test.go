package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/christopherjohns/gorbrelay/internal/activity"
	"github.com/christopherjohns/gorbrelay/internal/presence"
	"github.com/christopherjohns/gorbrelay/internal/ratelimit"
	"github.com/christopherjohns/gorbrelay/internal/relay"
)

type testRelay struct {
	ts       *httptest.Server
	registry *presence.Registry
	conns    *ConnManager
	events   *activity.MemoryStore
}

func newTestRelay(t *testing.T, opts ...HandlerOption) *testRelay {
	t.Helper()
	registry := presence.NewRegistry()
	events := activity.NewMemoryStore(100)
	conns := NewConnManager()
	router := relay.NewRouter(registry, relay.WithActivity(events))
	opts = append([]HandlerOption{WithActivity(events)}, opts...)
	ts := httptest.NewServer(NewHandler(conns, registry, router, opts...))
	t.Cleanup(ts.Close)
	return &testRelay{ts: ts, registry: registry, conns: conns, events: events}
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	return conn
}

// testClient reads its connection on a single goroutine and hands decoded
// messages over a channel. Reads never carry a deadline: an expired Read
// context closes the socket.
type testClient struct {
	conn *websocket.Conn
	msgs chan map[string]any
}

func newTestClient(t *testing.T, conn *websocket.Conn) *testClient {
	t.Helper()
	c := &testClient{conn: conn, msgs: make(chan map[string]any, 64)}
	go c.readLoop()
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return c
}

func (c *testClient) readLoop() {
	defer close(c.msgs)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			return
		}
		var v map[string]any
		if err := json.Unmarshal(data, &v); err != nil {
			v = map[string]any{"raw": string(data)}
		}
		c.msgs <- v
	}
}

func (c *testClient) write(t *testing.T, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func (c *testClient) read(t *testing.T) map[string]any {
	t.Helper()
	select {
	case v, ok := <-c.msgs:
		if !ok {
			t.Fatal("connection closed while waiting for a message")
		}
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

// expectSilence fails if c receives anything, or is closed, within a
// short window.
func (c *testClient) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case v, ok := <-c.msgs:
		if !ok {
			t.Fatal("connection closed while expecting silence")
		}
		t.Fatalf("expected no message, got %v", v)
	case <-time.After(200 * time.Millisecond):
	}
}

func (c *testClient) close() {
	c.conn.Close(websocket.StatusNormalClosure, "")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("timed out waiting for %s", what)
	}
}

func (tr *testRelay) dial(t *testing.T) *testClient {
	t.Helper()
	return newTestClient(t, dialWS(t, tr.ts.URL))
}

// register connects a client, registers it and consumes its own snapshot.
func (tr *testRelay) register(t *testing.T, id, inviteCode string) *testClient {
	t.Helper()
	c := tr.dial(t)
	c.write(t, `{"type":"register","user":{"id":"`+id+`","username":"user-`+id+`","avatar":"u","inviteCode":"`+inviteCode+`","wallet":"w"}}`)
	msg := c.read(t)
	if msg["type"] != "onlineUsers" {
		t.Fatalf("expected onlineUsers after register, got %v", msg["type"])
	}
	return c
}

func TestHandlerReadinessOnPlainRequest(t *testing.T) {
	tr := newTestRelay(t)

	resp, err := http.Get(tr.ts.URL)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body["message"] != "WebSocket server ready" {
		t.Errorf("expected readiness message, got %q", body["message"])
	}
}

func TestHandlerRegisterBroadcastsToAll(t *testing.T) {
	tr := newTestRelay(t)

	alice := tr.register(t, "a1", "ABCD")
	tr.register(t, "b1", "WXYZ")

	// alice sees the second snapshot with both users.
	msg := alice.read(t)
	if msg["type"] != "onlineUsers" {
		t.Fatalf("expected onlineUsers, got %v", msg["type"])
	}
	users := msg["users"].(map[string]any)
	if len(users) != 2 || users["a1"] == nil || users["b1"] == nil {
		t.Errorf("expected snapshot with a1 and b1, got %v", users)
	}
}

func TestHandlerFriendRequestScenario(t *testing.T) {
	tr := newTestRelay(t)

	alice := tr.register(t, "a1", "ABCD")
	bob := tr.register(t, "b1", "WXYZ")
	alice.read(t) // snapshot from bob's registration

	bob.write(t, `{"type":"sendFriendRequest","targetInviteCode":"ABCD","from":{"id":"b1","username":"Bob","avatar":"u","inviteCode":"WXYZ"}}`)

	msg := alice.read(t)
	if msg["type"] != "friendRequest" {
		t.Fatalf("expected friendRequest, got %v", msg["type"])
	}
	if id, _ := msg["requestId"].(string); id == "" {
		t.Error("expected non-empty requestId")
	}
	if from := msg["from"].(map[string]any); from["id"] != "b1" {
		t.Errorf("expected from.id b1, got %v", from["id"])
	}
	alice.expectSilence(t)
	bob.expectSilence(t)
}

func TestHandlerGameInviteRoundTrip(t *testing.T) {
	tr := newTestRelay(t)

	alice := tr.register(t, "a1", "ABCD")
	bob := tr.register(t, "b1", "WXYZ")
	alice.read(t)

	alice.write(t, `{"type":"sendGameInvite","targetUserId":"b1","gameType":"rps","stake":2,"from":{"id":"a1"}}`)
	invite := bob.read(t)
	if invite["type"] != "gameInvite" || invite["gameType"] != "rps" || invite["stake"] != float64(2) {
		t.Fatalf("unexpected invite: %v", invite)
	}

	bob.write(t, `{"type":"acceptGameInvite","targetUserId":"a1","gameType":"rps","stake":2,"user":{"id":"b1"}}`)
	accepted := alice.read(t)
	if accepted["type"] != "gameInviteAccepted" {
		t.Fatalf("expected gameInviteAccepted, got %v", accepted["type"])
	}
	if roomID, _ := accepted["roomId"].(string); !strings.HasPrefix(roomID, "room_") {
		t.Errorf("expected fresh roomId, got %v", accepted["roomId"])
	}
	if accepted["gameType"] != "rps" || accepted["stake"] != float64(2) {
		t.Errorf("unexpected accept payload: %v", accepted)
	}
}

func TestHandlerSilentDropAndMalformedInput(t *testing.T) {
	tr := newTestRelay(t)

	alice := tr.register(t, "a1", "ABCD")

	alice.write(t, `{"type":"sendFriendRequest","targetInviteCode":"NOPE","from":{"id":"a1"}}`)
	alice.write(t, `this is not json`)
	alice.write(t, `{"no":"type"}`)
	alice.expectSilence(t)

	// The connection survives malformed input.
	if _, ok := tr.registry.Get("a1"); !ok {
		t.Fatal("expected a1 to stay registered after malformed input")
	}
	if tr.conns.Count() != 1 {
		t.Fatalf("expected the connection to stay open, got %d", tr.conns.Count())
	}
	alice.write(t, `{"type":"sendGameInvite","targetUserId":"a1","gameType":"rps","stake":1,"from":{"id":"a1"}}`)
	if msg := alice.read(t); msg["type"] != "gameInvite" {
		t.Fatalf("expected gameInvite to self, got %v", msg["type"])
	}
}

func TestHandlerDisconnectBroadcastsOffline(t *testing.T) {
	tr := newTestRelay(t)

	alice := tr.register(t, "a1", "ABCD")
	bob := tr.register(t, "b1", "WXYZ")
	alice.read(t)

	bob.close()

	msg := alice.read(t)
	if msg["type"] != "userOffline" || msg["userId"] != "b1" {
		t.Fatalf("expected userOffline for b1, got %v", msg)
	}
	alice.expectSilence(t)

	if _, ok := tr.registry.Get("b1"); ok {
		t.Error("expected b1 to be removed from the registry")
	}
	if _, ok := tr.registry.ResolveInviteCode("WXYZ"); ok {
		t.Error("expected WXYZ to no longer resolve")
	}
	waitFor(t, "connection removal", func() bool { return tr.conns.Count() == 1 })

	waitFor(t, "offline event", func() bool {
		recent := tr.events.Recent(1)
		return len(recent) == 1 && recent[0].Kind == activity.KindOffline && recent[0].UserID == "b1"
	})
}

func TestHandlerQuietClientStaysRegistered(t *testing.T) {
	tr := newTestRelay(t)

	tr.register(t, "a1", "ABCD").expectSilence(t)
	time.Sleep(100 * time.Millisecond)

	if tr.registry.Len() != 1 || tr.conns.Count() != 1 {
		t.Fatalf("expected a1 to stay connected, got %d users and %d conns", tr.registry.Len(), tr.conns.Count())
	}
}

func TestHandlerUnregisteredDisconnectIsSilent(t *testing.T) {
	tr := newTestRelay(t)

	alice := tr.register(t, "a1", "ABCD")

	lurker := tr.dial(t)
	waitFor(t, "lurker connection", func() bool { return tr.conns.Count() == 2 })
	lurker.close()
	waitFor(t, "lurker removal", func() bool { return tr.conns.Count() == 1 })

	alice.expectSilence(t)
	if tr.registry.Len() != 1 {
		t.Errorf("expected 1 registered user, got %d", tr.registry.Len())
	}
}

func TestHandlerRateLimitsUpgrades(t *testing.T) {
	tr := newTestRelay(t, WithRateLimiter(ratelimit.New(1, time.Hour)))

	first := dialWS(t, tr.ts.URL)
	defer first.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(tr.ts.URL, "http"), nil)
	if err == nil {
		t.Fatal("expected second upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", resp)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	if got := clientIP(r); got != "10.1.2.3" {
		t.Errorf("expected 10.1.2.3, got %q", got)
	}

	// A client can prepend anything; only the hop the proxy appended counts.
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 198.51.100.7")
	if got := clientIP(r); got != "198.51.100.7" {
		t.Errorf("expected last forwarded hop, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "198.51.100.7")
	if got := clientIP(r); got != "198.51.100.7" {
		t.Errorf("expected single forwarded hop, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, ")
	if got := clientIP(r); got != "10.1.2.3" {
		t.Errorf("expected remote address for empty trailing hop, got %q", got)
	}
}

func TestHandlerRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	tr := newTestRelay(t, WithRateLimiter(ratelimit.New(1, time.Hour)))
	wsURL := "ws" + strings.TrimPrefix(tr.ts.URL, "http")

	dial := func(spoofed string) (*websocket.Conn, *http.Response, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h := http.Header{}
		h.Set("X-Forwarded-For", spoofed+", 198.51.100.7")
		return websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	}

	first, _, err := dial("203.0.113.1")
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer first.Close(websocket.StatusNormalClosure, "")

	_, resp, err := dial("203.0.113.2")
	if err == nil {
		t.Fatal("expected a rotated first hop to share the proxy's limit")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", resp)
	}
}
