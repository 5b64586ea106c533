package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/shinyyama/estate-chat/internal/config"
	"github.com/shinyyama/estate-chat/internal/identity"
)

// Authenticator resolves the caller's uid from the upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// MembershipStore is the authorization boundary for rooms.
type MembershipStore interface {
	IsMember(ctx context.Context, userID, conversationID string) (bool, error)
}

// ErrUnknownMessage is returned by a MessageSource when the message does not
// exist in the conversation or is not visible to the user.
var ErrUnknownMessage = errors.New("realtime: unknown message")

// MessageSource resolves a send_message hint to the stored message payload.
type MessageSource interface {
	LoadMessage(ctx context.Context, userID, conversationID, messageID string) (json.RawMessage, error)
}

type Options struct {
	AllowedOrigins    []string
	OriginRequired    bool
	RequireAuth       bool
	RequireMembership bool

	WriteTimeout      time.Duration
	ReadIdleTimeout   time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendQueueSize     int
	RateEvents        int
	RateWindow        time.Duration
}

func OptionsFromConfig(ws config.WSConfig, allowedOrigins []string) Options {
	return Options{
		AllowedOrigins:    allowedOrigins,
		OriginRequired:    ws.OriginRequired,
		RequireAuth:       ws.RequireAuth,
		RequireMembership: ws.RequireMembership,
		WriteTimeout:      ws.WriteTimeout,
		ReadIdleTimeout:   ws.ReadIdleTimeout,
		HeartbeatInterval: ws.HeartbeatInterval,
		HeartbeatTimeout:  ws.HeartbeatTimeout,
		SendQueueSize:     ws.SendQueueSize,
		RateEvents:        ws.RateEvents,
		RateWindow:        ws.RateWindow,
	}
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = writeTimeout
	}
	if o.ReadIdleTimeout <= 0 {
		o.ReadIdleTimeout = readIdleTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = heartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = heartbeatTimeout
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueue
	}
	if o.SendQueueSize < minSendQueue {
		o.SendQueueSize = minSendQueue
	}
	return o
}

// Gateway is the websocket entrypoint. It enforces origin policy, optional
// token auth, rate limits and heartbeats, and routes events to the Hub.
type Gateway struct {
	log     *slog.Logger
	hub     *Hub
	auth    Authenticator
	members MembershipStore
	source  MessageSource
	metrics *Metrics
	opts    Options

	// websocket.Accept authorizes same-host origins only; cross-origin hosts need patterns.
	originPatterns []string
}

// NewGateway wires the websocket entrypoint. A nil source makes send_message
// hints best-effort: they are forwarded as sent and never deduplicate the
// server relay.
func NewGateway(log *slog.Logger, hub *Hub, auth Authenticator, members MembershipStore, source MessageSource, metrics *Metrics, opts Options) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	return &Gateway{
		log:            log,
		hub:            hub,
		auth:           auth,
		members:        members,
		source:         source,
		metrics:        metrics,
		opts:           opts,
		originPatterns: originPatterns(opts.AllowedOrigins),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	verified, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.originPatterns})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(maxFrameBytes)

	sess := NewSession(uuid.NewString(), verified, g.opts.SendQueueSize)
	if err := g.hub.Register(sess); err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	g.log.Info("ws.open", "session_id", sess.ID, "verified_uid", verified)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Disconnect(sess)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				shutdown(websocket.StatusGoingAway, "session closed")
				return
			case env := <-sess.Send:
				if err := writeEnvelope(ctx, conn, env, g.opts.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sess.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(g.opts.HeartbeatInterval)
		defer t.Stop()
		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.opts.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sess.ID, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.opts.RateEvents, g.opts.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.opts.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadJSON:
				if !rl.Allow(time.Now()) {
					g.rejectFlood(ctx, conn, shutdown)
					break readLoop
				}
				g.sendError(sess, "bad_json", "invalid JSON")
				continue readLoop
			case readErrClose, readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "bye")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "session_id", sess.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(time.Now()) {
			g.rejectFlood(ctx, conn, shutdown)
			break readLoop
		}

		g.metrics.event(eventLabel(env.Event))
		if code, err := g.dispatch(ctx, sess, env); err != nil {
			g.sendError(sess, code, err.Error())
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	g.log.Info("ws.close", "session_id", sess.ID, "user_id", sess.UserID())
}

// rejectFlood reports rate_limited and closes with a policy violation.
// The error is written inline so it lands before the close frame.
func (g *Gateway) rejectFlood(ctx context.Context, conn *websocket.Conn, shutdown func(websocket.StatusCode, string)) {
	_ = writeEnvelope(ctx, conn, mustEnvelope(EventError, ErrorPayload{Code: "rate_limited", Message: "too many events"}), g.opts.WriteTimeout)
	shutdown(websocket.StatusPolicyViolation, "rate limited")
}

// authenticate returns the verified uid, "" for an allowed anonymous session.
func (g *Gateway) authenticate(r *http.Request) (string, error) {
	if g.auth == nil {
		if g.opts.RequireAuth {
			return "", errors.New("no authenticator configured")
		}
		return "", nil
	}
	uid, err := g.auth.Authenticate(r)
	if errors.Is(err, identity.ErrMissingCredential) && !g.opts.RequireAuth {
		return "", nil
	}
	return uid, err
}

func (g *Gateway) dispatch(ctx context.Context, s *Session, env Envelope) (string, error) {
	switch env.Event {
	case EventUserOnline:
		uid, err := decodeIDArg(env.Data, "userId")
		if err != nil && s.VerifiedUID() == "" {
			return "bad_payload", err
		}
		if v := s.VerifiedUID(); v != "" {
			if uid != "" && uid != v {
				return "identity_mismatch", errors.New("announced user does not match token")
			}
			uid = v
		}
		g.hub.Announce(s, uid)

	case EventJoinConversation:
		convID, err := decodeIDArg(env.Data, "conversationId")
		if err != nil {
			return "bad_payload", err
		}
		if code, err := g.authorizeRoom(ctx, s, convID); err != nil {
			return code, err
		}
		g.hub.Join(s, convID)

	case EventLeaveConversation:
		convID, err := decodeIDArg(env.Data, "conversationId")
		if err != nil {
			return "bad_payload", err
		}
		g.hub.Leave(s, convID)

	case EventTyping, EventStopTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
			return "bad_payload", errors.New("conversationId is required")
		}
		if uid := s.UserID(); uid != "" {
			p.UserID = uid
		}
		if p.UserID == "" {
			return "not_announced", errors.New("announce with user_online first")
		}
		convID := string(p.ConversationID)
		if code, err := g.authorizeRoom(ctx, s, convID); err != nil {
			return code, err
		}
		ex := Exclude{SessionID: s.ID, UserID: p.UserID}
		if env.Event == EventTyping {
			g.hub.RelayTyping(convID, p, ex)
		} else {
			g.hub.RelayStopTyping(convID, p, ex)
		}

	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" || len(p.Message) == 0 {
			return "bad_payload", errors.New("conversationId and message are required")
		}
		var ref messageRef
		if err := json.Unmarshal(p.Message, &ref); err != nil || ref.key() == "" {
			return "bad_payload", errors.New("message id is required")
		}
		convID := string(p.ConversationID)
		if code, err := g.authorizeRoom(ctx, s, convID); err != nil {
			return code, err
		}
		if g.source == nil {
			g.hub.RelayHint(convID, ref.key(), p.Message, Exclude{SessionID: s.ID})
			return "", nil
		}
		return g.relayStored(ctx, s, convID, ref.key())

	default:
		return "unsupported", fmt.Errorf("unsupported event: %s", env.Event)
	}
	return "", nil
}

// eventLabel bounds metric label cardinality to the known client events.
func eventLabel(event string) string {
	switch event {
	case EventUserOnline, EventJoinConversation, EventLeaveConversation, EventTyping, EventStopTyping, EventSendMessage:
		return event
	}
	return "unknown"
}

// relayStored replaces the client's copy of a message with the stored one,
// so only messages that exist in the conversation reach the room.
func (g *Gateway) relayStored(ctx context.Context, s *Session, conversationID, messageID string) (string, error) {
	uid, code, err := g.actingUID(s)
	if err != nil {
		return code, err
	}
	stored, err := g.source.LoadMessage(ctx, uid, conversationID, messageID)
	if err != nil {
		if errors.Is(err, ErrUnknownMessage) {
			return "unknown_message", errors.New("message not found in conversation")
		}
		g.log.Warn("ws.message.load.fail", "session_id", s.ID, "conversation_id", conversationID, "message_id", messageID, "err", err)
		return "internal", errors.New("message lookup failed")
	}
	var ref messageRef
	if err := json.Unmarshal(stored, &ref); err == nil && ref.key() != "" {
		messageID = ref.key()
	}
	g.hub.RelayMessage(conversationID, messageID, stored, Exclude{SessionID: s.ID})
	return "", nil
}

// actingUID is the uid rooms and hints are authorized against. When an
// authenticator is configured only the handshake-verified uid counts.
func (g *Gateway) actingUID(s *Session) (string, string, error) {
	if g.auth != nil {
		if v := s.VerifiedUID(); v != "" {
			return v, "", nil
		}
		return "", "unauthenticated", errors.New("a verified token is required")
	}
	if uid := s.UserID(); uid != "" {
		return uid, "", nil
	}
	return "", "not_announced", errors.New("announce with user_online first")
}

func (g *Gateway) authorizeRoom(ctx context.Context, s *Session, conversationID string) (string, error) {
	if !g.opts.RequireMembership || g.members == nil {
		return "", nil
	}
	if s.InRoom(conversationID) {
		return "", nil
	}
	uid, code, err := g.actingUID(s)
	if err != nil {
		return code, err
	}
	ok, err := g.members.IsMember(ctx, uid, conversationID)
	if err != nil {
		g.log.Warn("ws.membership.fail", "session_id", s.ID, "conversation_id", conversationID, "err", err)
		return "internal", errors.New("membership check failed")
	}
	if !ok {
		return "forbidden", errors.New("not a participant")
	}
	return "", nil
}

func (g *Gateway) sendError(s *Session, code, msg string) {
	if !s.enqueue(mustEnvelope(EventError, ErrorPayload{Code: code, Message: msg})) {
		g.metrics.drop()
	}
}

// ---- envelope IO ----

var errBadJSON = errors.New("bad json")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", errBadJSON)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.opts.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	host := originHost(origin)
	for _, a := range g.opts.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", strings.EqualFold(origin, a):
			return nil
		case host != "" && host == originHost(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHost(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept host patterns from the allowlist so
// both checks agree. Accept matches against host:port, hence the port wildcard.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, 2*len(allowed))
	for _, a := range allowed {
		h := originHost(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
		if h != "*" {
			seen[h+":*"] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
