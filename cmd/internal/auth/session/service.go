package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"parley/cmd/identity"
	"parley/cmd/identity/ids"
	"parley/cmd/internal/pg"
	"parley/cmd/security/password"
)

// maxTokenLen bounds presented tokens to avoid pathological inputs.
const maxTokenLen = 4096

// Service implements the high-level session protocol.
//
// SignIn and the refresh path run inside a single store transaction, so
// the credential check (or row lock) and the session write commit
// together. All session failures collapse to ErrUnauthorized before they
// leave this type; unexpected store errors pass through unmasked.
type Service struct {
	cfg   Config
	codec Codec
	store Store
	users identity.Store
	pw    password.Config

	// dummyHash burns a real Argon2id verification for unknown usernames,
	// keeping SignIn latency independent of username existence.
	dummyHash string
}

// NewService constructs a Service. It pre-computes the timing-equalization
// hash once, which costs one KDF invocation at startup.
func NewService(cfg Config, store Store, users identity.Store, codec Codec, pw password.Config) (*Service, error) {
	if store == nil || users == nil || codec == nil {
		return nil, ErrConfig
	}

	dummy, err := pw.Hash("parley-dummy-credential-equalizer")
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		codec:     codec,
		store:     store,
		users:     users,
		pw:        pw,
		dummyHash: dummy,
	}, nil
}

// SignUp registers a user and opens their first session atomically.
// A taken username surfaces as identity.ConflictError.
func (s *Service) SignUp(ctx context.Context, username, name, plainPassword string, now time.Time) (Identity, TokenPair, error) {
	if err := s.pw.Validate(plainPassword); err != nil {
		return Identity{}, TokenPair{}, err
	}
	hash, err := s.pw.Hash(plainPassword)
	if err != nil {
		return Identity{}, TokenPair{}, err
	}

	var id Identity
	var pair TokenPair
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		u, err := s.users.Create(ctx, identity.CreateUserInput{
			Username:     username,
			Name:         name,
			PasswordHash: hash,
			Now:          now,
		})
		if err != nil {
			return err
		}
		id, pair, err = s.openSession(ctx, u, now)
		return err
	})
	if err != nil {
		return Identity{}, TokenPair{}, err
	}
	return id, pair, nil
}

// SignIn authenticates a username/password pair and opens a session.
//
// The user row is locked for the duration of the transaction, so a
// concurrent credential change cannot interleave with session creation.
// Unknown username and wrong password are indistinguishable to callers,
// in result and in timing.
func (s *Service) SignIn(ctx context.Context, username, plainPassword string, now time.Time) (Identity, TokenPair, error) {
	var id Identity
	var pair TokenPair

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByUsername(ctx, username, true)
		if err != nil {
			if identity.IsNotFound(err) {
				_, _ = s.pw.Verify(s.dummyHash, plainPassword)
				return ErrInvalidCredentials
			}
			return err
		}

		ok, err := s.pw.Verify(u.PasswordHash, plainPassword)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidCredentials
		}

		id, pair, err = s.openSession(ctx, u, now)
		return err
	})
	if err != nil {
		return Identity{}, TokenPair{}, err
	}
	return id, pair, nil
}

// openSession creates the session row and issues both tokens.
// Must run inside the caller's transaction.
func (s *Service) openSession(ctx context.Context, u identity.User, now time.Time) (Identity, TokenPair, error) {
	refreshPlain, refreshHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Identity{}, TokenPair{}, err
	}

	sessionID, err := ids.NewULID(now)
	if err != nil {
		return Identity{}, TokenPair{}, err
	}

	row := Row{
		ID:               sessionID,
		UserID:           u.ID,
		RefreshTokenHash: refreshHash,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.SessionTTL),
	}
	if err := s.store.Create(ctx, row); err != nil {
		return Identity{}, TokenPair{}, err
	}

	id := Identity{
		SessionID: sessionID,
		UserID:    u.ID,
		Username:  u.Username,
		Name:      u.Name,
	}
	access, _, err := s.codec.Issue(id, now)
	if err != nil {
		return Identity{}, TokenPair{}, err
	}

	return id, TokenPair{Access: access, Refresh: refreshPlain}, nil
}

// Validate authenticates a request from its token pair.
//
// Fast path: a live access token resolves entirely in memory and returns
// a nil pair. When the access token fails to decode for any reason,
// expiry included, the refresh token is presented, rotated in place
// under a row lock, and a fresh pair is returned; the caller must hand
// it to the client.
//
// Every session failure, including an expired session (whose row is
// deleted first) and a lost rotation race, returns ErrUnauthorized.
func (s *Service) Validate(ctx context.Context, access, refresh string, now time.Time) (Identity, *TokenPair, error) {
	if access != "" {
		if id, err := s.codec.Decode(access, now); err == nil {
			return id, nil, nil
		}
		// Expired or malformed, the refresh token decides.
	}

	refresh = strings.TrimSpace(refresh)
	if refresh == "" || len(refresh) > maxTokenLen {
		return Identity{}, nil, ErrUnauthorized
	}

	var id Identity
	var pair TokenPair
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		row, err := s.lookupLive(ctx, refresh, now, true)
		if err != nil {
			return err
		}

		u, err := s.users.GetByID(ctx, row.UserID)
		if err != nil {
			return err
		}

		newPlain, newHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
		if err != nil {
			return err
		}
		if err := s.store.Rotate(ctx, row.ID, newHash, now.Add(s.cfg.SessionTTL), now); err != nil {
			return err
		}

		id = Identity{
			SessionID: row.ID,
			UserID:    u.ID,
			Username:  u.Username,
			Name:      u.Name,
		}
		access, _, err := s.codec.Issue(id, now)
		if err != nil {
			return err
		}
		pair = TokenPair{Access: access, Refresh: newPlain}
		return nil
	})
	if err != nil {
		return Identity{}, nil, s.collapse(err)
	}
	return id, &pair, nil
}

// ValidateForSocket authenticates a connection handshake without rotating
// the refresh token: the socket layer snapshots the presented token and
// rotates later through explicit re-authentication, so a reconnect storm
// cannot burn through refresh tokens.
//
// Access tokens are never consulted here. The handshake must prove the
// session still exists in the store, otherwise a revoked session could
// ride a not-yet-expired access token onto a long-lived connection.
func (s *Service) ValidateForSocket(ctx context.Context, refresh string, now time.Time) (Identity, error) {
	refresh = strings.TrimSpace(refresh)
	if refresh == "" || len(refresh) > maxTokenLen {
		return Identity{}, ErrUnauthorized
	}

	row, err := s.lookupLive(ctx, refresh, now, false)
	if err != nil {
		return Identity{}, s.collapse(err)
	}

	u, err := s.users.GetByID(ctx, row.UserID)
	if err != nil {
		return Identity{}, s.collapse(err)
	}

	return Identity{
		SessionID: row.ID,
		UserID:    u.ID,
		Username:  u.Username,
		Name:      u.Name,
	}, nil
}

// lookupLive resolves a refresh token to a live session row.
// An expired row is deleted before ErrSessionExpired is returned, so a
// dead session never lingers once presented.
func (s *Service) lookupLive(ctx context.Context, refresh string, now time.Time, forUpdate bool) (Row, error) {
	row, err := s.store.GetByRefreshHash(ctx, hashRefreshTokenHex(refresh), forUpdate)
	if err != nil {
		return Row{}, err
	}

	if !row.ExpiresAt.After(now) {
		if derr := s.store.Delete(ctx, ByID(row.ID)); derr != nil && !errors.Is(derr, ErrSessionNotFound) {
			return Row{}, derr
		}
		return Row{}, ErrSessionExpired
	}

	return row, nil
}

// collapse maps expected session failures to ErrUnauthorized and lets
// everything else through untouched, so an outage is never reported to
// the client as a credential problem without also surfacing server-side.
func (s *Service) collapse(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionExpired),
		identity.IsNotFound(err),
		pg.IsLockTimeout(err):
		return unauthorized(err)
	}
	return err
}

// SignOut deletes the referenced session. Deleting a session that is
// already gone is a no-op: sign-out is idempotent.
func (s *Service) SignOut(ctx context.Context, ref Ref) error {
	if ref.Zero() {
		return ErrUnauthorized
	}
	err := s.store.Delete(ctx, ref)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// CleanExpiredSessions removes every session past its expiry and reports
// how many were dropped. Run periodically by the janitor.
func (s *Service) CleanExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.store.DeleteExpired(ctx, now)
}
