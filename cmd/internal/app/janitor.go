package app

import (
	"context"
	"log/slog"
	"time"

	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/realtime"
)

// Janitor runs the periodic storage sweeps: expired sessions, expired
// messages, and chats left with no messages. All sweeps are also exposed
// on their services so an external scheduler can drive them instead.
type Janitor struct {
	log        *slog.Logger
	sessions   *session.Service
	chats      realtime.ChatStore
	interval   time.Duration
	messageTTL time.Duration
}

// NewJanitor constructs a Janitor. chats may be nil; its sweeps are skipped.
func NewJanitor(log *slog.Logger, sessions *session.Service, chats realtime.ChatStore, interval, messageTTL time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if messageTTL <= 0 {
		messageTTL = 30 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{
		log:        log,
		sessions:   sessions,
		chats:      chats,
		interval:   interval,
		messageTTL: messageTTL,
	}
}

// Run blocks until ctx is canceled, running Sweep once per interval.
func (j *Janitor) Run(ctx context.Context) {
	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs every sweep once. Failures are logged, never fatal.
func (j *Janitor) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	if j.sessions != nil {
		if n, err := j.sessions.CleanExpiredSessions(ctx, now); err != nil {
			j.log.Error("janitor.sessions.fail", "err", err)
		} else if n > 0 {
			j.log.Info("janitor.sessions.swept", "count", n)
		}
	}

	if j.chats == nil {
		return
	}

	cutoff := now.Add(-j.messageTTL)
	if n, err := j.chats.DeleteExpiredMessages(ctx, cutoff); err != nil {
		j.log.Error("janitor.messages.fail", "err", err)
	} else if n > 0 {
		j.log.Info("janitor.messages.swept", "count", n, "cutoff", cutoff)
	}

	if n, err := j.chats.DeleteEmptyChats(ctx); err != nil {
		j.log.Error("janitor.chats.fail", "err", err)
	} else if n > 0 {
		j.log.Info("janitor.chats.swept", "count", n)
	}
}
