package realtime

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

const memMaxMessagesPerChat = 10_000

// InMemoryStore is a dev/test ChatStore. It supports the full interface:
// idempotent appends with seq allocation, paged history, direct-chat
// resolution, and the two janitor sweeps.
type InMemoryStore struct {
	mu     sync.Mutex
	chats  map[string]*memChat
	direct map[string]string // canonical user pair -> chat id
}

type memChat struct {
	kind      string
	createdAt time.Time
	members   map[string]struct{}
	seq       int64
	dedupe    map[string]StoredMessage // client_msg_id -> stored message
	msgs      []StoredMessage          // ordered by seq
}

// NewInMemoryStore constructs an in-memory ChatStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chats:  make(map[string]*memChat),
		direct: make(map[string]string),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func directKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

func (s *InMemoryStore) EnsureDirectChat(ctx context.Context, userA, userB string, now time.Time) (string, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" || userA == userB {
		return "", errors.New("invalid user pair")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := directKey(userA, userB)
	if id, ok := s.direct[key]; ok {
		return id, nil
	}

	id, err := NewServerMsgID(now)
	if err != nil {
		return "", err
	}
	s.direct[key] = id
	s.chats[id] = &memChat{
		kind:      "direct",
		createdAt: now,
		members:   map[string]struct{}{userA: {}, userB: {}},
		dedupe:    make(map[string]StoredMessage),
		msgs:      make([]StoredMessage, 0, 64),
	}
	return id, nil
}

// ListChats returns the user's chats, newest first.
func (s *InMemoryStore) ListChats(ctx context.Context, userID string) ([]ChatSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ChatSummary
	for id, c := range s.chats {
		if _, ok := c.members[userID]; !ok {
			continue
		}
		members := make([]string, 0, len(c.members))
		for m := range c.members {
			members = append(members, m)
		}
		sort.Strings(members)
		out = append(out, ChatSummary{
			ChatID:    id,
			Kind:      c.kind,
			MemberIDs: members,
			LastSeq:   c.seq,
			CreatedAt: c.createdAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ChatID > out[j].ChatID
	})
	return out, nil
}

func (s *InMemoryStore) IsMember(ctx context.Context, userID, chatID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return false, nil
	}
	_, member := c.members[userID]
	return member, nil
}

// AppendMessage persists a message with idempotency and monotonic sequence allocation.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if in.ChatID == "" || in.ClientMsgID == "" || in.SenderID == "" {
		return AppendMessageResult{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.chats[in.ChatID]
	if c == nil {
		return AppendMessageResult{}, errors.New("unknown chat")
	}

	if existing, ok := c.dedupe[in.ClientMsgID]; ok {
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}

	c.seq++
	msg := StoredMessage{
		ChatID:      in.ChatID,
		ClientMsgID: in.ClientMsgID,
		ServerMsgID: NewRandomHex(16),
		Seq:         c.seq,
		SenderID:    in.SenderID,
		SenderName:  in.SenderName,
		Text:        in.Text,
		ServerTS:    now,
	}
	c.dedupe[in.ClientMsgID] = msg
	c.msgs = append(c.msgs, msg)

	// Bound memory to avoid unbounded growth in dev.
	if len(c.msgs) > memMaxMessagesPerChat {
		c.msgs = c.msgs[len(c.msgs)-memMaxMessagesPerChat:]
	}

	return AppendMessageResult{Stored: msg, Duplicated: false}, nil
}

// FetchHistory returns messages ordered by seq ASC with paging via after_seq.
func (s *InMemoryStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if in.ChatID == "" {
		return FetchHistoryResult{}, errors.New("missing chat_id")
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	fetch := limit + 1

	s.mu.Lock()
	c := s.chats[in.ChatID]
	var snap []StoredMessage
	if c != nil {
		snap = append([]StoredMessage(nil), c.msgs...)
	}
	s.mu.Unlock()

	if len(snap) == 0 {
		return FetchHistoryResult{Messages: nil, HasMore: false}, nil
	}

	sort.Slice(snap, func(i, j int) bool { return snap[i].Seq < snap[j].Seq })

	start := 0
	if in.AfterSeq != nil {
		after := *in.AfterSeq
		start = sort.Search(len(snap), func(i int) bool { return snap[i].Seq > after })
		if start >= len(snap) {
			return FetchHistoryResult{Messages: nil, HasMore: false}, nil
		}
	}

	end := start + fetch
	if end > len(snap) {
		end = len(snap)
	}
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	return FetchHistoryResult{Messages: out, HasMore: hasMore}, nil
}

func (s *InMemoryStore) DeleteExpiredMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, c := range s.chats {
		kept := c.msgs[:0]
		for _, m := range c.msgs {
			if m.ServerTS.After(cutoff) {
				kept = append(kept, m)
				continue
			}
			delete(c.dedupe, m.ClientMsgID)
			n++
		}
		c.msgs = kept
	}
	return n, nil
}

func (s *InMemoryStore) DeleteEmptyChats(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, c := range s.chats {
		if len(c.msgs) > 0 {
			continue
		}
		delete(s.chats, id)
		for key, dcID := range s.direct {
			if dcID == id {
				delete(s.direct, key)
			}
		}
		n++
	}
	return n, nil
}
