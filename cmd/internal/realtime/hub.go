package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns in-memory chat handles and provides stable fanout targets.
// It is intentionally minimal: persistence lives behind ChatStore.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	chats map[string]*Chat
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		chats: make(map[string]*Chat),
	}
}

// GetOrCreateChat returns a stable in-memory chat handle.
// Kind is currently always "direct".
func (h *Hub) GetOrCreateChat(chatID string) *Chat {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.chats[chatID]; ok {
		return c
	}

	c := NewChat(h.log, chatID, "direct")
	h.chats[chatID] = c
	return c
}
