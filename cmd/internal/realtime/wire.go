// Package realtime contains Parley's WebSocket gateway: the wire protocol,
// per-connection session bridging, chat fanout, and message persistence.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the wire protocol version carried in every envelope.
const Version = 1

// Envelope types. Client-to-server and server-to-client share one
// namespace; direction is documented per type.
const (
	// TypeHello authenticates the connection (client -> server).
	TypeHello = "hello"
	// TypeHelloAck confirms authentication (server -> client).
	TypeHelloAck = "hello.ack"

	// TypeReauth rotates the connection's session tokens (client -> server).
	TypeReauth = "reauth"
	// TypeReauthAck carries the fresh token pair (server -> client).
	TypeReauthAck = "reauth.ack"
	// TypeSessionExpired tells the client its session died (server -> client).
	// The connection closes right after.
	TypeSessionExpired = "session.expired"

	// TypeChatJoin subscribes the connection to a chat (client -> server,
	// echoed back on success).
	TypeChatJoin = "chat.join"

	// TypeMessageSend submits a message (client -> server).
	TypeMessageSend = "message.send"
	// TypeMessageAck confirms persistence to the sender (server -> client).
	TypeMessageAck = "message.ack"
	// TypeMessageNew fans a stored message out to chat members (server -> client).
	TypeMessageNew = "message.new"

	// TypeHistoryFetch requests a history window (client -> server).
	TypeHistoryFetch = "history.fetch"
	// TypeHistoryChunk returns a history window (server -> client).
	TypeHistoryChunk = "history.chunk"

	// TypeError reports a recoverable protocol error (server -> client).
	TypeError = "error"
)

// Envelope is the framing for every websocket message, both directions.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks framing invariants before the payload is touched.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("unsupported version: %d", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing type")
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing id")
	}
	return nil
}

// HelloPayload carries the refresh token for connection authentication.
// The handshake proves the session against the store; access tokens play
// no part here.
type HelloPayload struct {
	RefreshToken string `json:"refresh_token"`
}

// HelloAckPayload confirms authentication and names the connection.
type HelloAckPayload struct {
	ConnID   string `json:"conn_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// ReauthAckPayload carries the rotated token pair. The client must
// replace its stored pair; the old refresh token is dead.
type ReauthAckPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ChatJoinPayload subscribes to a chat, or echoes the subscription.
type ChatJoinPayload struct {
	ChatID string `json:"chat_id"`
	Kind   string `json:"kind,omitempty"`
}

// MessageSendPayload submits a message for persistence and fanout.
type MessageSendPayload struct {
	ChatID      string `json:"chat_id"`
	ClientMsgID string `json:"client_msg_id"`
	Text        string `json:"text"`
}

// MessageAckPayload confirms persistence to the sender.
type MessageAckPayload struct {
	ChatID      string `json:"chat_id"`
	ClientMsgID string `json:"client_msg_id"`
	ServerMsgID string `json:"server_msg_id"`
	Seq         int64  `json:"seq"`
}

// MessageNewPayload fans a stored message out to chat members.
type MessageNewPayload struct {
	ChatID      string    `json:"chat_id"`
	ClientMsgID string    `json:"client_msg_id"`
	ServerMsgID string    `json:"server_msg_id"`
	Seq         int64     `json:"seq"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Text        string    `json:"text"`
	ServerTS    time.Time `json:"server_ts"`
}

// HistoryFetchPayload requests a history window ordered by seq ASC.
type HistoryFetchPayload struct {
	ChatID   string `json:"chat_id"`
	AfterSeq *int64 `json:"after_seq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// HistoryChunkPayload returns a history window.
type HistoryChunkPayload struct {
	ChatID   string              `json:"chat_id"`
	Messages []MessageNewPayload `json:"messages"`
	HasMore  bool                `json:"has_more"`
}

// ErrorPayload reports a recoverable protocol error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
