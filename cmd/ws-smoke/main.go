// Package main provides a CI-friendly smoke test for the Parley gateway.
//
// It validates:
//   - signup + combined Authorization pair over HTTP
//   - direct chat creation
//   - handshake + subprotocol selection
//   - hello/ack connection authentication
//   - join echo
//   - send -> ack
//   - fanout of message.new to the peer
//   - history fetch
//   - idempotent dedupe by client_msg_id
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	rt "parley/cmd/internal/realtime"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "parley.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

type smokeClient struct {
	name     string
	username string
	access   string
	refresh  string
	userID   string
	connID   string

	conn *websocket.Conn

	inbox chan rt.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like handshake)")
		text    = flag.String("text", "hello parley 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	suffix := time.Now().UnixNano()
	a := mustSignup(root, "A", *baseURL, fmt.Sprintf("smoke_a_%d", suffix), *timeout)
	b := mustSignup(root, "B", *baseURL, fmt.Sprintf("smoke_b_%d", suffix), *timeout)

	chatID := mustCreateDirectChat(root, *baseURL, a, b.username, *timeout)
	if *verbose {
		fmt.Printf("signed up: A=%s B=%s chat_id=%s\n", a.username, b.username, chatID)
	}

	mustConnect(root, a, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	mustConnect(root, b, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.connID, b.connID, *origin)
	}

	mustJoin(root, a, chatID, *timeout)
	mustJoin(root, b, chatID, *timeout)

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())

	serverMsgID, seq := mustSendAndAssertAck(root, a, chatID, clientMsgID, *text, *timeout)

	mustAssertNew(root, b, chatID, clientMsgID, serverMsgID, seq, a.userID, *text, *timeout)

	_ = drainOptionalNew(root, a, 750*time.Millisecond)

	mustHistoryFetchContains(root, b, chatID, nil, 50, clientMsgID, serverMsgID, seq, a.userID, *text, *timeout)

	after := seq
	mustHistoryFetchEmpty(root, b, chatID, &after, 50, *timeout)

	_, seq2 := mustSendAndAssertAck(root, a, chatID, clientMsgID, *text, *timeout)
	if seq2 != seq {
		fatalf("dedupe: seq mismatch: first=%d second=%d", seq, seq2)
	}

	mustAssertNoType(root, b, rt.TypeMessageNew, 1200*time.Millisecond)
	mustAssertNoType(root, a, rt.TypeMessageNew, 1200*time.Millisecond)

	fmt.Printf("OK: A=%s B=%s chat_id=%s seq=%d server_msg_id=%s\n", a.userID, b.userID, chatID, seq, serverMsgID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustSignup(parent context.Context, name, baseURL, username string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := mustJSON(map[string]string{
		"username": username,
		"name":     "Smoke " + name,
		"password": "smoke-test-password",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/signup", bytes.NewReader(body))
	if err != nil {
		fatalf("signup request %s: %v", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("signup %s: %v", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fatalf("signup %s: status=%d body=%s", name, resp.StatusCode, string(b))
	}

	access, refresh, ok := parsePairHeader(resp.Header.Get("Authorization"))
	if !ok {
		fatalf("signup %s: missing or malformed Authorization pair", name)
	}

	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("signup %s: decode body: %v", name, err)
	}
	if strings.TrimSpace(out.User.ID) == "" {
		fatalf("signup %s: missing user id", name)
	}

	return &smokeClient{
		name:     name,
		username: username,
		access:   access,
		refresh:  refresh,
		userID:   out.User.ID,
		inbox:    make(chan rt.Envelope, 512),
		errCh:    make(chan error, 1),
	}
}

func mustCreateDirectChat(parent context.Context, baseURL string, c *smokeClient, peerUsername string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := mustJSON(map[string]string{"peer_username": peerUsername})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chats/direct", bytes.NewReader(body))
	if err != nil {
		fatalf("chat request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.access+"|"+c.refresh)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("create chat: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fatalf("create chat: status=%d body=%s", resp.StatusCode, string(b))
	}

	// The server may rotate the pair on any authenticated request.
	if access, refresh, ok := parsePairHeader(resp.Header.Get("Authorization")); ok {
		c.access, c.refresh = access, refresh
	}

	var out struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("create chat: decode body: %v", err)
	}
	if strings.TrimSpace(out.ChatID) == "" {
		fatalf("create chat: missing chat_id")
	}
	return out.ChatID
}

func parsePairHeader(raw string) (access, refresh string, ok bool) {
	raw = strings.TrimSpace(raw)
	const scheme = "Bearer "
	if len(raw) <= len(scheme) || !strings.EqualFold(raw[:len(scheme)], scheme) {
		return "", "", false
	}
	access, refresh, found := strings.Cut(strings.TrimSpace(raw[len(scheme):]), "|")
	if !found || access == "" || refresh == "" {
		return "", "", false
	}
	return access, refresh, true
}

func mustConnect(parent context.Context, c *smokeClient, wsURL, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", c.name, err)
	}

	assertSubprotocol(resp, subprotocol)

	conn.SetReadLimit(maxReadBytes)
	c.conn = conn
	c.startReadLoop()

	hello := rt.Envelope{
		V:    rt.Version,
		Type: rt.TypeHello,
		ID:   fmt.Sprintf("%s-hello", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(rt.HelloPayload{
			RefreshToken: c.refresh,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, rt.TypeHelloAck, stepTimeout, nil)

	var p rt.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload (%s): %v", c.name, err)
	}
	if strings.TrimSpace(p.ConnID) == "" {
		fatalf("hello.ack missing conn_id (%s)", c.name)
	}
	if p.UserID != c.userID {
		fatalf("hello.ack user_id mismatch (%s): got=%q want=%q", c.name, p.UserID, c.userID)
	}
	c.connID = p.ConnID
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env rt.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, chatID string, stepTimeout time.Duration) {
	env := rt.Envelope{
		V:    rt.Version,
		Type: rt.TypeChatJoin,
		ID:   fmt.Sprintf("%s-join", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(rt.ChatJoinPayload{
			ChatID: chatID,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	echo := c.mustReadUntilType(parent, rt.TypeChatJoin, stepTimeout, nil)

	var p rt.ChatJoinPayload
	if err := json.Unmarshal(echo.Payload, &p); err != nil {
		fatalf("unmarshal join echo payload (%s): %v", c.name, err)
	}
	if p.ChatID != chatID {
		fatalf("join echo chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, chatID)
	}
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, chatID, clientMsgID, text string, stepTimeout time.Duration) (serverMsgID string, seq int64) {
	env := rt.Envelope{
		V:    rt.Version,
		Type: rt.TypeMessageSend,
		ID:   fmt.Sprintf("%s-send-%s", c.name, clientMsgID),
		TS:   time.Now().UTC(),
		Payload: mustJSON(rt.MessageSendPayload{
			ChatID:      chatID,
			ClientMsgID: clientMsgID,
			Text:        text,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	skip := map[string]struct{}{rt.TypeMessageNew: {}}
	ack := c.mustReadUntilType(parent, rt.TypeMessageAck, stepTimeout, skip)

	var p rt.MessageAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal message.ack payload (%s): %v", c.name, err)
	}
	if p.ChatID != chatID {
		fatalf("ack chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, chatID)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("ack client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	if strings.TrimSpace(p.ServerMsgID) == "" {
		fatalf("ack missing server_msg_id (%s)", c.name)
	}
	if p.Seq <= 0 {
		fatalf("ack invalid seq (%s): %d", c.name, p.Seq)
	}
	return p.ServerMsgID, p.Seq
}

func mustAssertNew(parent context.Context, c *smokeClient, chatID, clientMsgID, serverMsgID string, seq int64, senderID, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, rt.TypeMessageNew, stepTimeout, nil)

	var p rt.MessageNewPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message.new payload (%s): %v", c.name, err)
	}

	if p.ChatID != chatID {
		fatalf("new chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, chatID)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("new client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	if p.ServerMsgID != serverMsgID {
		fatalf("new server_msg_id mismatch (%s): got=%q want=%q", c.name, p.ServerMsgID, serverMsgID)
	}
	if p.Seq != seq {
		fatalf("new seq mismatch (%s): got=%d want=%d", c.name, p.Seq, seq)
	}
	if p.SenderID != senderID {
		fatalf("new sender mismatch (%s): got=%q want=%q", c.name, p.SenderID, senderID)
	}
	if p.Text != text {
		fatalf("new text mismatch (%s): got=%q want=%q", c.name, p.Text, text)
	}
	if p.ServerTS.IsZero() {
		fatalf("new server_ts missing/zero (%s)", c.name)
	}
}

func mustHistoryFetchContains(
	parent context.Context,
	c *smokeClient,
	chatID string,
	afterSeq *int64,
	limit int,
	clientMsgID, serverMsgID string,
	seq int64,
	senderID, text string,
	stepTimeout time.Duration,
) {
	req := rt.Envelope{
		V:    rt.Version,
		Type: rt.TypeHistoryFetch,
		ID:   fmt.Sprintf("%s-history-fetch", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(rt.HistoryFetchPayload{
			ChatID:   chatID,
			AfterSeq: afterSeq,
			Limit:    limit,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, req, stepTimeout)

	chunk := c.mustReadUntilType(parent, rt.TypeHistoryChunk, stepTimeout, nil)

	var p rt.HistoryChunkPayload
	if err := json.Unmarshal(chunk.Payload, &p); err != nil {
		fatalf("unmarshal history.chunk payload (%s): %v", c.name, err)
	}
	if p.ChatID != chatID {
		fatalf("history.chunk chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, chatID)
	}

	found := false
	for _, m := range p.Messages {
		if m.ChatID == chatID &&
			m.ClientMsgID == clientMsgID &&
			m.ServerMsgID == serverMsgID &&
			m.Seq == seq &&
			m.SenderID == senderID &&
			m.Text == text &&
			!m.ServerTS.IsZero() {
			found = true
			break
		}
	}
	if !found {
		fatalf("history.chunk missing expected message (%s)", c.name)
	}
}

func mustHistoryFetchEmpty(parent context.Context, c *smokeClient, chatID string, afterSeq *int64, limit int, stepTimeout time.Duration) {
	req := rt.Envelope{
		V:    rt.Version,
		Type: rt.TypeHistoryFetch,
		ID:   fmt.Sprintf("%s-history-fetch-empty", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(rt.HistoryFetchPayload{
			ChatID:   chatID,
			AfterSeq: afterSeq,
			Limit:    limit,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, req, stepTimeout)

	chunk := c.mustReadUntilType(parent, rt.TypeHistoryChunk, stepTimeout, nil)

	var p rt.HistoryChunkPayload
	if err := json.Unmarshal(chunk.Payload, &p); err != nil {
		fatalf("unmarshal history.chunk payload (%s): %v", c.name, err)
	}
	if p.ChatID != chatID {
		fatalf("history.chunk chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, chatID)
	}
	if len(p.Messages) != 0 {
		fatalf("expected empty history chunk (%s), got=%d", c.name, len(p.Messages))
	}
}

func drainOptionalNew(parent context.Context, c *smokeClient, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.errCh:
			if err != nil {
				return err
			}
			return errors.New("connection closed while draining")
		case env, ok := <-c.inbox:
			if !ok {
				return errors.New("connection closed while draining")
			}
			if env.Type == rt.TypeMessageNew {
				return nil
			}
		}
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == rt.TypeError {
				var ep rt.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) rt.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == rt.TypeError {
				var ep rt.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env rt.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
