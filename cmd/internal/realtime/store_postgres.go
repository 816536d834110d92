package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"parley/cmd/internal/pg"
)

// PostgresStore is a ChatStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pg.DB. The caller manages the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Uses per-chat transactional advisory locks to guarantee:
//   - No sequence gaps caused by duplicates
//   - Strict monotonic ordering under concurrency
type PostgresStore struct {
	db     *pg.DB
	schema string
}

// StoreOption configures PostgresStore behavior.
type StoreOption func(*PostgresStore) error

// WithStoreSchema sets the DB schema used by this store (default: "parley").
// The schema name is validated and safely quoted in queries.
func WithStoreSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed ChatStore.
func NewPostgresStore(db *pg.DB, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{
		db:     db,
		schema: "parley",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.db == nil {
		return nil, errors.New("realtime: nil db")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) EnsureDirectChat(ctx context.Context, userA, userB string, now time.Time) (string, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" || userA == userB {
		return "", errors.New("invalid user pair")
	}
	if userB < userA {
		userA, userB = userB, userA
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	chats := pgIdent(s.schema, "chats")
	members := pgIdent(s.schema, "chat_members")
	directKey := userA + ":" + userB

	var chatID string
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		q := s.db.Q(ctx)

		id, err := NewServerMsgID(now)
		if err != nil {
			return err
		}

		// First writer wins the direct_key; everyone else reads it back.
		if _, err := q.Exec(ctx,
			`INSERT INTO `+chats+` (id, kind, direct_key, created_at)
			 VALUES ($1, 'direct', $2, $3)
			 ON CONFLICT (direct_key) DO NOTHING`,
			id, directKey, now,
		); err != nil {
			return err
		}

		if err := q.QueryRow(ctx,
			`SELECT id FROM `+chats+` WHERE direct_key = $1`, directKey,
		).Scan(&chatID); err != nil {
			return err
		}

		_, err = q.Exec(ctx,
			`INSERT INTO `+members+` (chat_id, user_id)
			 VALUES ($1, $2), ($1, $3)
			 ON CONFLICT DO NOTHING`,
			chatID, userA, userB,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("realtime: ensure direct chat: %w", err)
	}
	return chatID, nil
}

func (s *PostgresStore) IsMember(ctx context.Context, userID, chatID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	chatID = strings.TrimSpace(chatID)
	if userID == "" || chatID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	members := pgIdent(s.schema, "chat_members")

	var one int
	err := s.db.Q(ctx).QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListChats returns the user's chats, newest first.
func (s *PostgresStore) ListChats(ctx context.Context, userID string) ([]ChatSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("missing user id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chats := pgIdent(s.schema, "chats")
	members := pgIdent(s.schema, "chat_members")
	cursors := pgIdent(s.schema, "chat_cursors")

	rows, err := s.db.Q(ctx).Query(ctx,
		`SELECT c.id, c.kind, c.created_at,
		        COALESCE(cur.next_seq - 1, 0),
		        (SELECT array_agg(m2.user_id ORDER BY m2.user_id)
		           FROM `+members+` m2 WHERE m2.chat_id = c.id)
		   FROM `+chats+` c
		   JOIN `+members+` m ON m.chat_id = c.id
		   LEFT JOIN `+cursors+` cur ON cur.chat_id = c.id
		  WHERE m.user_id = $1
		  ORDER BY c.created_at DESC, c.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("realtime: list chats: %w", err)
	}
	defer rows.Close()

	var out []ChatSummary
	for rows.Next() {
		var c ChatSummary
		if err := rows.Scan(&c.ChatID, &c.Kind, &c.CreatedAt, &c.LastSeq, &c.MemberIDs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendMessage appends a message with idempotency and monotonic sequence allocation.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
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

	cursors := pgIdent(s.schema, "chat_cursors")
	messages := pgIdent(s.schema, "messages")

	var out AppendMessageResult
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		q := s.db.Q(ctx)

		// Serialize all writes per chat to guarantee:
		// - No seq waste for duplicates
		// - Strict monotonic ordering without races
		if _, err := q.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ChatID,
		); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		existing, err := s.readByClientMsgID(ctx, q, messages, in.ChatID, in.ClientMsgID)
		if err == nil {
			out = AppendMessageResult{Stored: existing, Duplicated: true}
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		// Cursor row ensures monotonic seq allocation.
		if _, err := q.Exec(ctx,
			`INSERT INTO `+cursors+` (chat_id, next_seq)
			 VALUES ($1, 1)
			 ON CONFLICT (chat_id) DO NOTHING`,
			in.ChatID,
		); err != nil {
			return err
		}

		var seq int64
		if err := q.QueryRow(ctx,
			`UPDATE `+cursors+`
			    SET next_seq = next_seq + 1,
			        updated_at = now()
			  WHERE chat_id = $1
			RETURNING (next_seq - 1)`,
			in.ChatID,
		).Scan(&seq); err != nil {
			return err
		}

		serverMsgID, err := NewServerMsgID(now)
		if err != nil {
			return err
		}

		if _, err := q.Exec(ctx,
			`INSERT INTO `+messages+` (
			     chat_id, seq, server_msg_id, client_msg_id, sender_id, sender_name, text, server_ts
			   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			in.ChatID, seq, serverMsgID, in.ClientMsgID, in.SenderID, in.SenderName, in.Text, now,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		out = AppendMessageResult{Stored: StoredMessage{
			ChatID:      in.ChatID,
			ClientMsgID: in.ClientMsgID,
			ServerMsgID: serverMsgID,
			Seq:         seq,
			SenderID:    in.SenderID,
			SenderName:  in.SenderName,
			Text:        in.Text,
			ServerTS:    now,
		}}
		return nil
	})
	if err != nil {
		return AppendMessageResult{}, err
	}
	return out, nil
}

// FetchHistory returns messages ordered by seq ASC, with optional paging by AfterSeq.
func (s *PostgresStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
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

	messages := pgIdent(s.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)

	if in.AfterSeq == nil {
		rows, err = s.db.Q(ctx).Query(ctx,
			`SELECT chat_id, client_msg_id, server_msg_id, seq, sender_id, sender_name, text, server_ts
			   FROM `+messages+`
			  WHERE chat_id = $1
			  ORDER BY seq ASC
			  LIMIT $2`,
			in.ChatID, fetch,
		)
	} else {
		rows, err = s.db.Q(ctx).Query(ctx,
			`SELECT chat_id, client_msg_id, server_msg_id, seq, sender_id, sender_name, text, server_ts
			   FROM `+messages+`
			  WHERE chat_id = $1 AND seq > $2
			  ORDER BY seq ASC
			  LIMIT $3`,
			in.ChatID, *in.AfterSeq, fetch,
		)
	}
	if err != nil {
		return FetchHistoryResult{}, err
	}
	defer rows.Close()

	msgs := make([]StoredMessage, 0, fetch)
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(
			&m.ChatID,
			&m.ClientMsgID,
			&m.ServerMsgID,
			&m.Seq,
			&m.SenderID,
			&m.SenderName,
			&m.Text,
			&m.ServerTS,
		); err != nil {
			return FetchHistoryResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	return FetchHistoryResult{Messages: msgs, HasMore: hasMore}, nil
}

func (s *PostgresStore) DeleteExpiredMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	messages := pgIdent(s.schema, "messages")

	tag, err := s.db.Q(ctx).Exec(ctx,
		`DELETE FROM `+messages+` WHERE server_ts <= $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("realtime: delete expired messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteEmptyChats(ctx context.Context) (int64, error) {
	chats := pgIdent(s.schema, "chats")
	messages := pgIdent(s.schema, "messages")

	tag, err := s.db.Q(ctx).Exec(ctx,
		`DELETE FROM `+chats+` c
		  WHERE NOT EXISTS (
		        SELECT 1 FROM `+messages+` m WHERE m.chat_id = c.id
		  )`,
	)
	if err != nil {
		return 0, fmt.Errorf("realtime: delete empty chats: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) readByClientMsgID(ctx context.Context, q pg.Querier, messagesTable, chatID, clientMsgID string) (StoredMessage, error) {
	var m StoredMessage
	err := q.QueryRow(ctx,
		`SELECT chat_id, client_msg_id, server_msg_id, seq, sender_id, sender_name, text, server_ts
		   FROM `+messagesTable+`
		  WHERE chat_id = $1 AND client_msg_id = $2`,
		chatID, clientMsgID,
	).Scan(&m.ChatID, &m.ClientMsgID, &m.ServerMsgID, &m.Seq, &m.SenderID, &m.SenderName, &m.Text, &m.ServerTS)
	return m, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
