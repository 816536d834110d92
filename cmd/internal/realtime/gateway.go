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
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"parley/cmd/internal/auth/session"
)

const (
	wsSubprotocolV1 = "parley.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsDefaultHistoryLimit = 50
	wsMaxHistoryLimit     = 200

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the WebSocket entrypoint for Parley realtime.
//
// It enforces origin policy, subprotocol selection, rate limits and
// heartbeats, authenticates the connection through the session bridge,
// and routes validated envelopes to the Hub and ChatStore.
//
// Auth model: the first envelope must be hello carrying the token pair.
// The pair is validated without rotation and snapshotted into the bridge;
// token rotation happens only through an explicit reauth envelope. Every
// authenticated event re-resolves the snapshot, so a session killed
// elsewhere drops the connection at its next event.
type Gateway struct {
	log    *slog.Logger
	hub    *Hub
	store  ChatStore
	bridge *Bridge
	auth   SessionAuth

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults.
// hub may be nil (an internal one is created); store, bridge and auth are required.
func NewGateway(log *slog.Logger, hub *Hub, store ChatStore, bridge *Bridge, auth SessionAuth) (*Gateway, error) {
	if store == nil || bridge == nil || auth == nil {
		return nil, errors.New("realtime: nil gateway dependency")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}

	g := &Gateway{log: log, hub: hub, store: store, bridge: bridge, auth: auth}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("PARLEY_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("PARLEY_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("PARLEY_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("PARLEY_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("PARLEY_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("PARLEY_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("PARLEY_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("PARLEY_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("PARLEY_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("PARLEY_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and runs the realtime loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure, // dev-only escape hatch
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.connid.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "id allocation failed")
		return
	}
	client := NewClient(connID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		joined    *Chat
	)

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: client.Send remains open and membership removal happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if joined != nil {
				joined.Leave(connID)
				joined = nil
			}

			// Snapshot removal uses a fresh context: the request context
			// is usually already canceled at this point.
			detachCtx, detachCancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := g.bridge.Detach(detachCtx, connID); err != nil {
				g.log.Warn("ws.detach.fail", "conn_id", connID, "err", err)
			}
			detachCancel()

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		// Everything except hello requires an authenticated connection.
		if env.Type != TypeHello && !client.Authenticated() {
			g.trySendError(ctx, client, "unauthenticated", "hello first")
			shutdown(websocket.StatusPolicyViolation, "unauthenticated")
			break readLoop
		}

		switch env.Type {
		case TypeHello:
			if client.Authenticated() {
				g.trySendError(ctx, client, "already_authenticated", "hello already done")
				continue readLoop
			}
			if err := g.onHello(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "unauthorized", "authentication failed")
				shutdown(websocket.StatusPolicyViolation, "authentication failed")
				break readLoop
			}

		case TypeReauth:
			ok, err := g.onReauth(ctx, client, now)
			if err != nil {
				g.trySendError(ctx, client, "reauth_failed", err.Error())
				continue readLoop
			}
			if !ok {
				g.sendSessionExpired(ctx, client)
				shutdown(websocket.StatusPolicyViolation, "session expired")
				break readLoop
			}

		case TypeChatJoin:
			if !g.requireAttached(ctx, client) {
				shutdown(websocket.StatusPolicyViolation, "session expired")
				break readLoop
			}
			conv, err := g.onJoin(ctx, client, env)
			if err != nil {
				g.trySendError(ctx, client, "join_failed", err.Error())
				continue readLoop
			}

			// Ensure membership stability: leave the old chat before switching.
			if joined != nil && joined.ID != conv.ID {
				joined.Leave(connID)
			}
			joined = conv

		case TypeMessageSend:
			if !g.requireAttached(ctx, client) {
				shutdown(websocket.StatusPolicyViolation, "session expired")
				break readLoop
			}
			if joined == nil {
				g.trySendError(ctx, client, "not_joined", "join first")
				continue readLoop
			}
			if err := g.onMessageSend(ctx, client, joined, env, now); err != nil {
				g.trySendError(ctx, client, "send_failed", err.Error())
				continue readLoop
			}

		case TypeHistoryFetch:
			if !g.requireAttached(ctx, client) {
				shutdown(websocket.StatusPolicyViolation, "session expired")
				break readLoop
			}
			if joined == nil {
				g.trySendError(ctx, client, "not_joined", "join first")
				continue readLoop
			}
			if err := g.onHistoryFetch(ctx, client, joined, env); err != nil {
				g.trySendError(ctx, client, "history_failed", err.Error())
				continue readLoop
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *Gateway) onHello(ctx context.Context, client *Client, env Envelope, now time.Time) error {
	var p HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	// Handshake validates without rotation: a reconnect storm must not
	// burn refresh tokens.
	id, err := g.auth.ValidateForSocket(ctx, p.RefreshToken, now)
	if err != nil {
		g.log.Info("ws.hello.reject", "conn_id", client.ConnID, "err", err)
		return err
	}

	if err := g.bridge.Attach(ctx, client.ConnID, id, p.RefreshToken); err != nil {
		return err
	}
	client.Identity = id

	ackPayload, _ := json.Marshal(HelloAckPayload{
		ConnID:   client.ConnID,
		UserID:   id.UserID,
		Username: id.Username,
		Name:     id.Name,
	})
	ack := newEnvelope(TypeHelloAck, ackPayload, now)

	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: hello.ack")
	}

	g.log.Info("ws.hello.ok", "conn_id", client.ConnID, "user_id", id.UserID)
	return nil
}

// onReauth rotates the connection's tokens through the bridge.
// Returns ok=false when the session is dead and the connection must drop.
func (g *Gateway) onReauth(ctx context.Context, client *Client, now time.Time) (bool, error) {
	id, pair, err := g.bridge.Reauthenticate(ctx, client.ConnID, now)
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) || errors.Is(err, ErrNotAttached) {
			return false, nil
		}
		return false, err
	}
	client.Identity = id

	ackPayload, _ := json.Marshal(ReauthAckPayload{
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
	})
	if !g.enqueue(ctx, client, newEnvelope(TypeReauthAck, ackPayload, now)) {
		return false, errors.New("backpressure: reauth.ack")
	}
	return true, nil
}

// requireAttached confirms the connection's snapshot is still alive and
// slides its TTL. A missing snapshot means the session died elsewhere.
func (g *Gateway) requireAttached(ctx context.Context, client *Client) bool {
	_, err := g.bridge.Lookup(ctx, client.ConnID)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrNotAttached) {
		g.log.Warn("ws.snapshot.lookup.fail", "conn_id", client.ConnID, "err", err)
	}
	g.sendSessionExpired(ctx, client)
	return false
}

func (g *Gateway) onJoin(ctx context.Context, client *Client, env Envelope) (*Chat, error) {
	var p ChatJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	chatID := strings.TrimSpace(p.ChatID)
	if chatID == "" {
		return nil, errors.New("missing chat_id")
	}

	member, err := g.store.IsMember(ctx, client.Identity.UserID, chatID)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return nil, errors.New("not a member")
	}

	conv := g.hub.GetOrCreateChat(chatID)
	conv.Join(client)

	echoPayload, _ := json.Marshal(ChatJoinPayload{
		ChatID: conv.ID,
		Kind:   conv.Kind,
	})
	echo := newEnvelope(TypeChatJoin, echoPayload, time.Now().UTC())

	if !g.enqueue(ctx, client, echo) {
		conv.Leave(client.ConnID)
		return nil, errors.New("backpressure: join echo")
	}

	return conv, nil
}

func (g *Gateway) onMessageSend(ctx context.Context, client *Client, conv *Chat, env Envelope, now time.Time) error {
	var p MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if strings.TrimSpace(p.ChatID) == "" || p.ChatID != conv.ID {
		return errors.New("invalid chat_id")
	}
	if strings.TrimSpace(p.ClientMsgID) == "" {
		return errors.New("missing client_msg_id")
	}

	text := strings.TrimSpace(p.Text)
	if text == "" {
		return errors.New("empty text")
	}
	if len([]rune(text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	res, err := g.store.AppendMessage(ctx, AppendMessageInput{
		ChatID:      p.ChatID,
		ClientMsgID: p.ClientMsgID,
		SenderID:    client.Identity.UserID,
		SenderName:  client.Identity.Name,
		Text:        text,
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("store append: %w", err)
	}

	stored := res.Stored

	ackPayload, _ := json.Marshal(MessageAckPayload{
		ChatID:      stored.ChatID,
		ClientMsgID: stored.ClientMsgID,
		ServerMsgID: stored.ServerMsgID,
		Seq:         stored.Seq,
	})
	ack := newEnvelope(TypeMessageAck, ackPayload, now)

	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: ack")
	}

	if res.Duplicated {
		return nil
	}

	newPayload, _ := json.Marshal(MessageNewPayload{
		ChatID:      stored.ChatID,
		ClientMsgID: stored.ClientMsgID,
		ServerMsgID: stored.ServerMsgID,
		Seq:         stored.Seq,
		SenderID:    stored.SenderID,
		SenderName:  stored.SenderName,
		Text:        stored.Text,
		ServerTS:    stored.ServerTS,
	})
	conv.Broadcast(newEnvelope(TypeMessageNew, newPayload, now))
	return nil
}

func (g *Gateway) onHistoryFetch(ctx context.Context, client *Client, conv *Chat, env Envelope) error {
	var p HistoryFetchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	chatID := strings.TrimSpace(p.ChatID)
	if chatID == "" {
		return errors.New("missing chat_id")
	}
	if chatID != conv.ID {
		return errors.New("not a member of chat_id")
	}

	limit := p.Limit
	if limit <= 0 {
		limit = wsDefaultHistoryLimit
	}
	if limit > wsMaxHistoryLimit {
		limit = wsMaxHistoryLimit
	}

	out, err := g.store.FetchHistory(ctx, FetchHistoryInput{
		ChatID:   chatID,
		AfterSeq: p.AfterSeq,
		Limit:    limit,
	})
	if err != nil {
		return err
	}

	msgs := make([]MessageNewPayload, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, MessageNewPayload{
			ChatID:      m.ChatID,
			ClientMsgID: m.ClientMsgID,
			ServerMsgID: m.ServerMsgID,
			Seq:         m.Seq,
			SenderID:    m.SenderID,
			SenderName:  m.SenderName,
			Text:        m.Text,
			ServerTS:    m.ServerTS,
		})
	}

	chunkPayload, _ := json.Marshal(HistoryChunkPayload{
		ChatID:   chatID,
		Messages: msgs,
		HasMore:  out.HasMore,
	})
	chunk := newEnvelope(TypeHistoryChunk, chunkPayload, time.Now().UTC())

	if !g.enqueue(ctx, client, chunk) {
		return errors.New("backpressure: history chunk")
	}
	return nil
}

// ---- send helpers ----

func (g *Gateway) sendSessionExpired(ctx context.Context, client *Client) {
	_ = g.enqueue(ctx, client, newEnvelope(TypeSessionExpired, nil, time.Now().UTC()))
}

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) Envelope {
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
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

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	slices.Sort(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
