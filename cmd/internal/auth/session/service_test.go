package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"parley/cmd/identity"
	"parley/cmd/security/password"
)

func testServiceConfig() Config {
	cfg := DefaultConfig()
	cfg.JWTSecret = []byte("0123456789abcdef0123456789abcdef")
	cfg.AccessTokenTTL = 15 * time.Minute
	cfg.SessionTTL = 24 * time.Hour
	cfg.ClockSkew = 0
	return cfg
}

func testPasswordConfig() password.Config {
	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	return pw
}

type testEnv struct {
	svc   *Service
	store *MemoryStore
	users *identity.MemoryStore
	now   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testServiceConfig()
	codec, err := NewJWTCodec(cfg)
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}

	store := NewMemoryStore()
	users := identity.NewMemoryStore()

	svc, err := NewService(cfg, store, users, codec, testPasswordConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	return &testEnv{
		svc:   svc,
		store: store,
		users: users,
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (e *testEnv) signUp(t *testing.T, username, pass string) (Identity, TokenPair) {
	t.Helper()
	id, pair, err := e.svc.SignUp(context.Background(), username, username+" Fullname", pass, e.now)
	if err != nil {
		t.Fatalf("SignUp(%s): %v", username, err)
	}
	return id, pair
}

func TestSignIn_IssuesWorkingPair(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.signUp(t, "alice", "a sufficiently long pass")

	id, pair, err := e.svc.SignIn(ctx, "alice", "a sufficiently long pass", e.now)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if id.Username != "alice" || id.SessionID == "" {
		t.Fatalf("identity = %+v", id)
	}
	if pair.Access == "" || pair.Refresh == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}

	// The issued access token authenticates immediately.
	got, newPair, err := e.svc.Validate(ctx, pair.Access, "", e.now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if newPair != nil {
		t.Fatalf("live access token triggered rotation")
	}
	if got.SessionID != id.SessionID || got.UserID != id.UserID {
		t.Fatalf("identity mismatch: %+v vs %+v", got, id)
	}
}

func TestSignIn_UnknownUserAndWrongPasswordIndistinguishable(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.signUp(t, "alice", "a sufficiently long pass")

	_, _, errUnknown := e.svc.SignIn(ctx, "nobody", "whatever password", e.now)
	_, _, errWrong := e.svc.SignIn(ctx, "alice", "not her password", e.now)

	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("unknown user: err = %v", errUnknown)
	}
	if !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v", errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("error texts differ: %q vs %q", errUnknown, errWrong)
	}
}

func TestSignUp_DuplicateUsername(t *testing.T) {
	e := newTestEnv(t)
	e.signUp(t, "alice", "a sufficiently long pass")

	_, _, err := e.svc.SignUp(context.Background(), "ALICE", "Alice 2", "another long password", e.now)
	if !identity.IsConflict(err) {
		t.Fatalf("duplicate signup: err = %v, want conflict", err)
	}
}

// countingStore records how many calls hit the underlying store.
type countingStore struct {
	Store
	calls int
}

func (c *countingStore) GetByRefreshHash(ctx context.Context, h string, fu bool) (Row, error) {
	c.calls++
	return c.Store.GetByRefreshHash(ctx, h, fu)
}

func (c *countingStore) GetByID(ctx context.Context, id string, fu bool) (Row, error) {
	c.calls++
	return c.Store.GetByID(ctx, id, fu)
}

func TestValidate_FastPathSkipsStore(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, pair := e.signUp(t, "alice", "a sufficiently long pass")

	counting := &countingStore{Store: e.store}
	cfg := testServiceConfig()
	codec, _ := NewJWTCodec(cfg)
	svc, err := NewService(cfg, counting, e.users, codec, testPasswordConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, _, err := svc.Validate(ctx, pair.Access, pair.Refresh, e.now.Add(time.Minute)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if counting.calls != 0 {
		t.Fatalf("fast path hit the store %d times", counting.calls)
	}
}

func TestValidate_ExpiredAccessRotatesRefresh(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id, pair := e.signUp(t, "alice", "a sufficiently long pass")

	// Past access TTL, inside session TTL.
	later := e.now.Add(time.Hour)

	got, newPair, err := e.svc.Validate(ctx, pair.Access, pair.Refresh, later)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if newPair == nil {
		t.Fatalf("expired access token did not rotate")
	}
	if got.SessionID != id.SessionID {
		t.Fatalf("session id changed across rotation: %s -> %s", id.SessionID, got.SessionID)
	}
	if newPair.Refresh == pair.Refresh {
		t.Fatalf("refresh token not rotated")
	}
	if newPair.Access == pair.Access {
		t.Fatalf("access token not reissued")
	}

	// The new access token works on its own.
	if _, p, err := e.svc.Validate(ctx, newPair.Access, "", later.Add(time.Minute)); err != nil || p != nil {
		t.Fatalf("new access token rejected: pair=%v err=%v", p, err)
	}
}

func TestValidate_RotatedTokenIsSingleUse(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, pair := e.signUp(t, "alice", "a sufficiently long pass")

	later := e.now.Add(time.Hour)
	_, newPair, err := e.svc.Validate(ctx, "", pair.Refresh, later)
	if err != nil {
		t.Fatalf("first rotation: %v", err)
	}

	// The spent token must never authenticate again.
	_, _, err = e.svc.Validate(ctx, "", pair.Refresh, later.Add(time.Second))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("replayed refresh: err = %v, want ErrUnauthorized", err)
	}

	// The winner's token still works.
	if _, _, err := e.svc.Validate(ctx, "", newPair.Refresh, later.Add(time.Minute)); err != nil {
		t.Fatalf("winner token rejected: %v", err)
	}
}

func TestValidate_SlidingExpiry(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id, pair := e.signUp(t, "alice", "a sufficiently long pass")

	later := e.now.Add(20 * time.Hour)
	if _, _, err := e.svc.Validate(ctx, "", pair.Refresh, later); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	row, err := e.store.GetByID(ctx, id.SessionID, false)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	want := later.Add(testServiceConfig().SessionTTL)
	if !row.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", row.ExpiresAt, want)
	}
	if !row.UpdatedAt.Equal(later) {
		t.Fatalf("UpdatedAt = %v, want %v", row.UpdatedAt, later)
	}
}

func TestValidate_ExpiredSessionDeletedAndUnauthorized(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, pair := e.signUp(t, "alice", "a sufficiently long pass")

	// Past the whole session TTL.
	tooLate := e.now.Add(25 * time.Hour)
	_, _, err := e.svc.Validate(ctx, "", pair.Refresh, tooLate)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired session: err = %v, want ErrUnauthorized", err)
	}

	// The row is gone, not merely rejected.
	if e.store.Len() != 0 {
		t.Fatalf("expired session row still present")
	}
}

func TestValidate_GarbageTokens(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	cases := []struct{ access, refresh string }{
		{"", ""},
		{"garbage", ""},
		{"", "never-issued-token"},
		{"garbage", "never-issued-token"},
	}
	for _, c := range cases {
		_, _, err := e.svc.Validate(ctx, c.access, c.refresh, e.now)
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Validate(%q, %q): err = %v, want ErrUnauthorized", c.access, c.refresh, err)
		}
	}
}

// failingStore injects an error into refresh lookups.
type failingStore struct {
	Store
	err error
}

func (f *failingStore) GetByRefreshHash(context.Context, string, bool) (Row, error) {
	return Row{}, f.err
}

func TestValidate_StoreOutageNotMaskedAsUnauthorized(t *testing.T) {
	e := newTestEnv(t)
	boom := errors.New("connection refused")

	cfg := testServiceConfig()
	codec, _ := NewJWTCodec(cfg)
	svc, err := NewService(cfg, &failingStore{Store: e.store, err: boom}, e.users, codec, testPasswordConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, _, err = svc.Validate(context.Background(), "", "some-refresh-token", e.now)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped outage", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outage masked as ErrUnauthorized")
	}
}

func TestValidateForSocket_NoRotation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id, pair := e.signUp(t, "alice", "a sufficiently long pass")

	later := e.now.Add(time.Hour)
	got, err := e.svc.ValidateForSocket(ctx, pair.Refresh, later)
	if err != nil {
		t.Fatalf("ValidateForSocket: %v", err)
	}
	if got.SessionID != id.SessionID {
		t.Fatalf("identity mismatch")
	}

	// The refresh token survived: a later HTTP rotation still works.
	if _, _, err := e.svc.Validate(ctx, "", pair.Refresh, later.Add(time.Minute)); err != nil {
		t.Fatalf("refresh token consumed by socket validation: %v", err)
	}
}

func TestValidate_MalformedAccessFallsBackToRefresh(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id, pair := e.signUp(t, "alice", "a sufficiently long pass")

	// A garbage access token must not veto a perfectly good refresh token.
	got, rotated, err := e.svc.Validate(ctx, "not-a-jwt-at-all", pair.Refresh, e.now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rotated == nil {
		t.Fatalf("expected a rotated pair")
	}
	if got.SessionID != id.SessionID {
		t.Fatalf("identity mismatch: got %q want %q", got.SessionID, id.SessionID)
	}

	// The rotation consumed the presented refresh token.
	if _, _, err := e.svc.Validate(ctx, "", pair.Refresh, e.now.Add(2*time.Minute)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old refresh token survived the fallback rotation: %v", err)
	}
}

func TestValidateForSocket_RevokedSessionRejected(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, pair := e.signUp(t, "alice", "a sufficiently long pass")

	if err := e.svc.SignOut(ctx, ByToken(pair.Refresh)); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	// A signed-out session cannot open a socket, no matter what access
	// token the client still holds: the handshake checks the store.
	if _, err := e.svc.ValidateForSocket(ctx, pair.Refresh, e.now.Add(time.Minute)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestValidateForSocket_ExpiredSessionDeleted(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, pair := e.signUp(t, "alice", "a sufficiently long pass")

	tooLate := e.now.Add(25 * time.Hour)
	if _, err := e.svc.ValidateForSocket(ctx, pair.Refresh, tooLate); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if e.store.Len() != 0 {
		t.Fatalf("expired session row still present")
	}
}

func TestSignOut_ByTokenAndIdempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, pair := e.signUp(t, "alice", "a sufficiently long pass")

	if err := e.svc.SignOut(ctx, ByToken(pair.Refresh)); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if e.store.Len() != 0 {
		t.Fatalf("session survived sign-out")
	}

	// Second sign-out with the same token is a no-op.
	if err := e.svc.SignOut(ctx, ByToken(pair.Refresh)); err != nil {
		t.Fatalf("repeated SignOut: %v", err)
	}

	// The signed-out refresh token no longer authenticates.
	if _, _, err := e.svc.Validate(ctx, "", pair.Refresh, e.now.Add(time.Hour)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("signed-out token accepted: err = %v", err)
	}
}

func TestSignOut_ByID(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id, _ := e.signUp(t, "alice", "a sufficiently long pass")

	if err := e.svc.SignOut(ctx, ByID(id.SessionID)); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if e.store.Len() != 0 {
		t.Fatalf("session survived sign-out")
	}
}

func TestSignOut_ZeroRef(t *testing.T) {
	e := newTestEnv(t)
	if err := e.svc.SignOut(context.Background(), Ref{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("zero ref: err = %v", err)
	}
}

func TestCleanExpiredSessions(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.signUp(t, "alice", "a sufficiently long pass")
	e.signUp(t, "bob", "a sufficiently long pass")

	// Only sessions past their expiry are swept.
	n, err := e.svc.CleanExpiredSessions(ctx, e.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CleanExpiredSessions: %v", err)
	}
	if n != 0 {
		t.Fatalf("swept %d live sessions", n)
	}

	n, err = e.svc.CleanExpiredSessions(ctx, e.now.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("CleanExpiredSessions: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept %d sessions, want 2", n)
	}
	if e.store.Len() != 0 {
		t.Fatalf("expired sessions remain")
	}
}

func TestValidate_ConcurrentRotation_OneWinner(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, pair := e.signUp(t, "alice", "a sufficiently long pass")

	later := e.now.Add(time.Hour)

	type result struct {
		pair *TokenPair
		err  error
	}
	results := make(chan result, 8)
	for range 8 {
		go func() {
			_, p, err := e.svc.Validate(ctx, "", pair.Refresh, later)
			results <- result{p, err}
		}()
	}

	var winners, losers int
	for range 8 {
		r := <-results
		switch {
		case r.err == nil && r.pair != nil:
			winners++
		case errors.Is(r.err, ErrUnauthorized):
			losers++
		default:
			t.Fatalf("unexpected result: pair=%v err=%v", r.pair, r.err)
		}
	}
	if winners != 1 || losers != 7 {
		t.Fatalf("winners=%d losers=%d, want exactly one winner", winners, losers)
	}
}
