package realtime

import (
	"context"
	"time"
)

// StoredMessage is the canonical persisted message representation.
type StoredMessage struct {
	ChatID      string
	ClientMsgID string
	ServerMsgID string
	Seq         int64
	SenderID    string
	SenderName  string
	Text        string
	ServerTS    time.Time
}

// ChatStore persists chats and their messages.
//
// Requirements:
//   - Idempotency per (chat_id, client_msg_id)
//   - Monotonic seq per chat (no gaps for duplicates)
//   - History query ordered by seq ASC
type ChatStore interface {
	// EnsureDirectChat returns the direct chat between two users, creating
	// it on first use. The pair is unordered: (a,b) and (b,a) resolve to
	// the same chat.
	EnsureDirectChat(ctx context.Context, userA, userB string, now time.Time) (chatID string, err error)

	// IsMember reports whether userID belongs to chatID. The gateway
	// checks this before join and fanout.
	IsMember(ctx context.Context, userID, chatID string) (bool, error)

	// ListChats returns every chat userID belongs to, newest first.
	ListChats(ctx context.Context, userID string) ([]ChatSummary, error)

	AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error)
	FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error)

	// DeleteExpiredMessages removes messages older than cutoff.
	DeleteExpiredMessages(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteEmptyChats removes chats that no longer hold any message.
	DeleteEmptyChats(ctx context.Context) (int64, error)

	Close() error
}

// ChatSummary describes one chat in a membership listing.
type ChatSummary struct {
	ChatID    string
	Kind      string
	MemberIDs []string
	LastSeq   int64
	CreatedAt time.Time
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	ChatID      string
	ClientMsgID string
	SenderID    string
	SenderName  string
	Text        string
	Now         time.Time
}

// AppendMessageResult is the append operation result.
type AppendMessageResult struct {
	Stored     StoredMessage
	Duplicated bool
}

// FetchHistoryInput describes a history query request.
type FetchHistoryInput struct {
	ChatID   string
	AfterSeq *int64
	Limit    int
}

// FetchHistoryResult contains the retrieved history window.
type FetchHistoryResult struct {
	Messages []StoredMessage
	HasMore  bool
}
