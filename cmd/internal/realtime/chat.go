package realtime

import (
	"log/slog"
	"sync"
)

// Chat is an in-memory membership + broadcast fanout primitive.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Chat struct {
	log  *slog.Logger
	ID   string
	Kind string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewChat constructs a chat fanout handle.
func NewChat(log *slog.Logger, id, kind string) *Chat {
	return &Chat{
		log:     log,
		ID:      id,
		Kind:    kind,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (c *Chat) Join(client *Client) {
	if c == nil || client == nil || client.ConnID == "" {
		return
	}

	c.mu.Lock()
	c.members[client.ConnID] = client
	c.mu.Unlock()

	c.log.Info("chat.member.join", "chat_id", c.ID, "conn_id", client.ConnID)
}

// Leave removes a client from membership. The client itself stays alive:
// a connection switching chats leaves the old one and keeps running, so
// lifecycle shutdown belongs to the connection owner, never to the chat.
func (c *Chat) Leave(connID string) {
	if c == nil || connID == "" {
		return
	}

	c.mu.Lock()
	delete(c.members, connID)
	c.mu.Unlock()

	c.log.Info("chat.member.leave", "chat_id", c.ID, "conn_id", connID)
}

// Broadcast fans an envelope out to all members.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
func (c *Chat) Broadcast(env Envelope) {
	if c == nil {
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
			// Drop rather than block the whole chat.
		}
	}
}
