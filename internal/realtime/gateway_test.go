package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shinyyama/estate-chat/internal/applog"
	"github.com/shinyyama/estate-chat/internal/identity"
)

type tokenAuth map[string]string

func (a tokenAuth) Authenticate(r *http.Request) (string, error) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		return "", identity.ErrMissingCredential
	}
	uid, ok := a[tok]
	if !ok {
		return "", identity.ErrInvalidCredential
	}
	return uid, nil
}

type staticMembers map[string][]string

func (m staticMembers) IsMember(_ context.Context, userID, conversationID string) (bool, error) {
	for _, uid := range m[conversationID] {
		if uid == userID {
			return true, nil
		}
	}
	return false, nil
}

var roomMembers = staticMembers{"42": {"B", "O"}}

// storedMessages maps conversation id to message id to the stored payload.
type storedMessages map[string]map[string]string

func (m storedMessages) LoadMessage(ctx context.Context, userID, conversationID, messageID string) (json.RawMessage, error) {
	if ok, _ := roomMembers.IsMember(ctx, userID, conversationID); !ok {
		return nil, ErrUnknownMessage
	}
	payload, ok := m[conversationID][messageID]
	if !ok {
		return nil, ErrUnknownMessage
	}
	return json.RawMessage(payload), nil
}

var testMessages = storedMessages{"42": {"99": `{"id":99,"conversationId":42,"senderId":"B","text":"Is this available?"}`}}

type gatewayEnv struct {
	hub *Hub
	srv *httptest.Server
}

func startGateway(t *testing.T, auth Authenticator, opts Options) *gatewayEnv {
	t.Helper()
	return startGatewayWith(t, auth, testMessages, opts)
}

func startGatewayWith(t *testing.T, auth Authenticator, source MessageSource, opts Options) *gatewayEnv {
	t.Helper()
	log := applog.Discard()
	metrics := NewMetrics(prometheus.NewRegistry())
	hub := NewHub(log, metrics)
	opts.RequireMembership = true
	gw := NewGateway(log, hub, auth, roomMembers, source, metrics, opts)
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &gatewayEnv{hub: hub, srv: srv}
}

func (e *gatewayEnv) url(query string) string {
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func emit(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	env, err := NewEnvelope(event, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	b, _ := json.Marshal(env)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// expect reads until an event other than users_online arrives (or want itself).
func expect(t *testing.T, c *websocket.Conn, want string) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, b, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Event == EventUsersOnline && want != EventUsersOnline {
			continue
		}
		if env.Event != want {
			t.Fatalf("got %s %s, want %s", env.Event, env.Data, want)
		}
		return env
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGatewayConversationFlow(t *testing.T) {
	env := startGateway(t, nil, Options{})
	buyer := dial(t, env.url(""))
	owner := dial(t, env.url(""))

	emit(t, buyer, EventUserOnline, "B")
	expect(t, buyer, EventUsersOnline)
	emit(t, owner, EventUserOnline, "O")
	online := expect(t, buyer, EventUsersOnline)
	var users []string
	_ = json.Unmarshal(online.Data, &users)
	if len(users) != 2 {
		t.Fatalf("users_online=%v", users)
	}

	emit(t, buyer, EventJoinConversation, "42")
	emit(t, owner, EventJoinConversation, 42)
	waitFor(t, func() bool { return env.hub.rooms.Size("42") == 2 })

	emit(t, buyer, EventTyping, map[string]any{"conversationId": "42", "userId": "B", "userName": "Buyer"})
	typing := expect(t, owner, EventUserTyping)
	var tp TypingPayload
	if err := json.Unmarshal(typing.Data, &tp); err != nil || tp.UserID != "B" || tp.UserName != "Buyer" {
		t.Fatalf("typing=%s err=%v", typing.Data, err)
	}

	// The room gets the stored message, not the text the client sent.
	hint := map[string]any{"conversationId": "42", "message": map[string]any{"id": 99, "text": "Wire the deposit here"}}
	emit(t, buyer, EventSendMessage, hint)
	got := expect(t, owner, EventReceiveMessage)
	var ref messageRef
	if err := json.Unmarshal(got.Data, &ref); err != nil || ref.key() != "99" {
		t.Fatalf("message=%s", got.Data)
	}
	if !strings.Contains(string(got.Data), "Is this available?") || strings.Contains(string(got.Data), "deposit") {
		t.Fatalf("relayed client text: %s", got.Data)
	}

	// A repeated hint for the same message is swallowed.
	emit(t, buyer, EventSendMessage, hint)
	emit(t, buyer, EventSendMessage, map[string]any{"conversationId": "42", "message": map[string]any{"id": 7, "text": "made up"}})
	if e := expect(t, buyer, EventError); !strings.Contains(string(e.Data), "unknown_message") {
		t.Fatalf("error=%s", e.Data)
	}
	emit(t, buyer, EventStopTyping, map[string]any{"conversationId": "42"})
	expect(t, owner, EventUserStopTyping)

	_ = owner.Close(websocket.StatusNormalClosure, "bye")
	left := expect(t, buyer, EventUsersOnline)
	users = nil
	_ = json.Unmarshal(left.Data, &users)
	if len(users) != 1 || users[0] != "B" {
		t.Fatalf("users after owner left=%v", users)
	}
}

func TestGatewayRejectsNonParticipantJoin(t *testing.T) {
	env := startGateway(t, nil, Options{})
	c := dial(t, env.url(""))

	emit(t, c, EventJoinConversation, "42")
	if e := expect(t, c, EventError); !strings.Contains(string(e.Data), "not_announced") {
		t.Fatalf("error=%s", e.Data)
	}

	emit(t, c, EventUserOnline, "X")
	emit(t, c, EventJoinConversation, "42")
	if e := expect(t, c, EventError); !strings.Contains(string(e.Data), "forbidden") {
		t.Fatalf("error=%s", e.Data)
	}
	if env.hub.rooms.Size("42") != 0 {
		t.Fatal("stranger must not enter the room")
	}
}

func TestGatewayTokenPinsIdentity(t *testing.T) {
	env := startGateway(t, tokenAuth{"tok-b": "B"}, Options{})

	c := dial(t, env.url("token=tok-b"))
	emit(t, c, EventUserOnline, "O")
	if e := expect(t, c, EventError); !strings.Contains(string(e.Data), "identity_mismatch") {
		t.Fatalf("error=%s", e.Data)
	}
	emit(t, c, EventUserOnline, nil)
	waitFor(t, func() bool { return env.hub.IsOnline("B") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, env.url("token=forged"), nil)
	if err == nil {
		t.Fatal("expected handshake failure for a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%v err=%v", resp, err)
	}
}

func TestGatewayRoomsRequireVerifiedIdentity(t *testing.T) {
	env := startGateway(t, tokenAuth{"tok-b": "B"}, Options{})

	anon := dial(t, env.url(""))
	emit(t, anon, EventUserOnline, "B")
	emit(t, anon, EventJoinConversation, "42")
	if e := expect(t, anon, EventError); !strings.Contains(string(e.Data), "unauthenticated") {
		t.Fatalf("error=%s", e.Data)
	}
	emit(t, anon, EventTyping, map[string]any{"conversationId": "42"})
	if e := expect(t, anon, EventError); !strings.Contains(string(e.Data), "unauthenticated") {
		t.Fatalf("error=%s", e.Data)
	}
	if env.hub.rooms.Size("42") != 0 {
		t.Fatal("announced uid must not open a room")
	}

	verified := dial(t, env.url("token=tok-b"))
	emit(t, verified, EventJoinConversation, "42")
	waitFor(t, func() bool { return env.hub.rooms.Size("42") == 1 })
}

func TestGatewayHintWithoutStoreNeverSuppressesRelay(t *testing.T) {
	env := startGatewayWith(t, nil, nil, Options{})
	buyer := dial(t, env.url(""))
	owner := dial(t, env.url(""))
	emit(t, buyer, EventUserOnline, "B")
	emit(t, owner, EventUserOnline, "O")
	emit(t, buyer, EventJoinConversation, "42")
	emit(t, owner, EventJoinConversation, "42")
	waitFor(t, func() bool { return env.hub.rooms.Size("42") == 2 })

	emit(t, buyer, EventSendMessage, map[string]any{"conversationId": "42", "message": map[string]any{"id": 5, "text": "forged"}})
	if got := expect(t, owner, EventReceiveMessage); !strings.Contains(string(got.Data), "forged") {
		t.Fatalf("hint=%s", got.Data)
	}

	stored := json.RawMessage(`{"id":5,"text":"Is parking included?"}`)
	if n := env.hub.RelayMessage("42", "5", stored, Exclude{UserID: "B"}); n != 1 {
		t.Fatalf("server relay deliveries=%d", n)
	}
	if got := expect(t, owner, EventReceiveMessage); !strings.Contains(string(got.Data), "Is parking included?") {
		t.Fatalf("relay=%s", got.Data)
	}
}

func TestGatewayRequireAuthRejectsAnonymous(t *testing.T) {
	env := startGateway(t, tokenAuth{}, Options{RequireAuth: true})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, env.url(""), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%v err=%v", resp, err)
	}
}

func TestGatewayOriginPolicy(t *testing.T) {
	env := startGateway(t, nil, Options{AllowedOrigins: []string{"https://estate.example.com"}, OriginRequired: true})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, env.url(""), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example.com"}},
	})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin resp=%v err=%v", resp, err)
	}

	c, _, err := websocket.Dial(ctx, env.url(""), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://estate.example.com"}},
	})
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	_ = c.CloseNow()

	_, resp, err = websocket.Dial(ctx, env.url(""), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("missing origin resp=%v err=%v", resp, err)
	}
}

func TestGatewayRateLimitClosesSession(t *testing.T) {
	env := startGateway(t, nil, Options{RateEvents: 3, RateWindow: time.Minute})
	c := dial(t, env.url(""))
	for i := 0; i < 4; i++ {
		emit(t, c, EventLeaveConversation, "42")
	}
	if e := expect(t, c, EventError); !strings.Contains(string(e.Data), "rate_limited") {
		t.Fatalf("error=%s", e.Data)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("close err=%v", err)
	}
}

func TestGatewayRateLimitCountsBadFrames(t *testing.T) {
	env := startGateway(t, nil, Options{RateEvents: 3, RateWindow: time.Minute})
	c := dial(t, env.url(""))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 4; i++ {
		if err := c.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// Queued bad_json replies may land before or after the inline rate_limited frame.
	limited := false
	for {
		_, b, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
				t.Fatalf("close err=%v", err)
			}
			break
		}
		if strings.Contains(string(b), "rate_limited") {
			limited = true
		}
	}
	if !limited {
		t.Fatal("no rate_limited error before close")
	}
}

func TestGatewayReportsBadInput(t *testing.T) {
	env := startGateway(t, nil, Options{})
	c := dial(t, env.url(""))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if e := expect(t, c, EventError); !strings.Contains(string(e.Data), "bad_json") {
		t.Fatalf("error=%s", e.Data)
	}
	emit(t, c, "shout", map[string]string{"x": "y"})
	if e := expect(t, c, EventError); !strings.Contains(string(e.Data), "unsupported") {
		t.Fatalf("error=%s", e.Data)
	}
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"http://localhost:3000", "https://LOCALHOST", "https://estate.example.com/", "*"})
	want := []string{"*", "estate.example.com", "estate.example.com:*", "localhost", "localhost:*"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns=%v", got)
	}
}

func TestClassifyReadErr(t *testing.T) {
	tests := []struct {
		err  error
		want readErrKind
	}{
		{fmt.Errorf("%w: unexpected end of JSON input", errBadJSON), readErrBadJSON},
		{context.DeadlineExceeded, readErrCtxDone},
		{fmt.Errorf("read: %w", io.EOF), readErrConnClosed},
		{websocket.CloseError{Code: websocket.StatusGoingAway}, readErrClose},
		{errors.New("boom"), readErrUnknown},
	}
	for _, tt := range tests {
		if got := classifyReadErr(tt.err); got != tt.want {
			t.Errorf("classifyReadErr(%v)=%d want=%d", tt.err, got, tt.want)
		}
	}
}
