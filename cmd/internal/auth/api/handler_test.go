package authapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/realtime"
	"parley/cmd/security/password"
)

func fastPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	sessCfg := session.DefaultConfig()
	sessCfg.JWTSecret = []byte("0123456789abcdef0123456789abcdef")

	codec, err := session.NewJWTCodec(sessCfg)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	users := identity.NewMemoryStore()
	svc, err := session.NewService(sessCfg, session.NewMemoryStore(), users, codec, fastPasswords())
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := NewHandler(log, Config{MaxBodyBytes: 1 << 20, SignupEnabled: true}, svc, users, realtime.NewInMemoryStore())
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rd)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func signupUser(t *testing.T, mux *http.ServeMux, username, pass string) string {
	t.Helper()

	rec := doJSON(t, mux, http.MethodPost, "/auth/signup", "", signupRequest{
		Username: username,
		Name:     username,
		Password: pass,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", username, rec.Code, rec.Body.String())
	}

	auth := rec.Header().Get("Authorization")
	if _, refresh, ok := ParseAuthorization(auth); !ok || refresh == "" {
		t.Fatalf("signup %s: bad Authorization header %q", username, auth)
	}
	return auth
}

func TestSignupIssuesWorkingPair(t *testing.T) {
	mux := newTestMux(t)
	auth := signupUser(t, mux, "alice", "correct horse battery")

	rec := doJSON(t, mux, http.MethodGet, "/me", auth, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/me: status %d body %s", rec.Code, rec.Body.String())
	}

	var me meResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.User.Username != "alice" || me.User.ID == "" {
		t.Fatalf("unexpected user: %+v", me.User)
	}
}

func TestSignupConflict(t *testing.T) {
	mux := newTestMux(t)
	signupUser(t, mux, "alice", "correct horse battery")

	rec := doJSON(t, mux, http.MethodPost, "/auth/signup", "", signupRequest{
		Username: "Alice", // normalization makes this the same user
		Password: "another long password",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body %s", rec.Code, rec.Body.String())
	}
}

func TestSignupRejectsWeakPassword(t *testing.T) {
	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/auth/signup", "", signupRequest{
		Username: "alice",
		Password: "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
	}
}

func TestSigninFailuresAreUniform(t *testing.T) {
	mux := newTestMux(t)
	signupUser(t, mux, "alice", "correct horse battery")

	wrongPw := doJSON(t, mux, http.MethodPost, "/auth/signin", "", signinRequest{
		Username: "alice", Password: "wrong password here",
	})
	noUser := doJSON(t, mux, http.MethodPost, "/auth/signin", "", signinRequest{
		Username: "nobody", Password: "wrong password here",
	})

	if wrongPw.Code != http.StatusUnauthorized || noUser.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d / %d, want 401 for both", wrongPw.Code, noUser.Code)
	}
	if wrongPw.Body.String() != noUser.Body.String() {
		t.Fatalf("failure bodies differ:\n%s\n%s", wrongPw.Body.String(), noUser.Body.String())
	}
}

func TestRefreshRotatesAndInvalidatesOldToken(t *testing.T) {
	mux := newTestMux(t)
	auth := signupUser(t, mux, "alice", "correct horse battery")

	rec := doJSON(t, mux, http.MethodPost, "/auth/refresh", auth, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body.String())
	}
	rotated := rec.Header().Get("Authorization")
	if rotated == "" || rotated == auth {
		t.Fatalf("rotated header not returned: %q", rotated)
	}

	// The old refresh token is single-use.
	replay := doJSON(t, mux, http.MethodPost, "/auth/refresh", auth, nil)
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replay: status %d, want 401", replay.Code)
	}

	// The rotated pair keeps working.
	me := doJSON(t, mux, http.MethodGet, "/me", rotated, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("/me after rotation: status %d", me.Code)
	}
}

func TestSignoutKillsSession(t *testing.T) {
	mux := newTestMux(t)
	auth := signupUser(t, mux, "alice", "correct horse battery")

	rec := doJSON(t, mux, http.MethodPost, "/auth/signout", auth, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("signout: status %d", rec.Code)
	}

	// Idempotent: a second signout with the same dead token succeeds.
	again := doJSON(t, mux, http.MethodPost, "/auth/signout", auth, nil)
	if again.Code != http.StatusNoContent {
		t.Fatalf("second signout: status %d", again.Code)
	}

	refresh := doJSON(t, mux, http.MethodPost, "/auth/refresh", auth, nil)
	if refresh.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after signout: status %d, want 401", refresh.Code)
	}
}

func TestAuthenticatedEndpointsRejectGarbage(t *testing.T) {
	mux := newTestMux(t)
	signupUser(t, mux, "alice", "correct horse battery")

	cases := []struct {
		name string
		auth string
	}{
		{name: "missing header", auth: ""},
		{name: "not bearer", auth: "Basic abc"},
		{name: "garbage pair", auth: "Bearer not-a-jwt|not-a-refresh"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodGet, "/me", tc.auth, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestMalformedAccessWithValidRefreshRotates(t *testing.T) {
	mux := newTestMux(t)
	auth := signupUser(t, mux, "alice", "correct horse battery")

	_, refresh, ok := ParseAuthorization(auth)
	if !ok {
		t.Fatalf("signup did not return a pair: %q", auth)
	}

	rec := doJSON(t, mux, http.MethodGet, "/me", "Bearer not-a-jwt|"+refresh, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}

	rotated := rec.Header().Get("Authorization")
	if rotated == "" || rotated == auth {
		t.Fatalf("expected a rotated pair on the response, got %q", rotated)
	}

	// The old refresh token died in the rotation.
	replay := doJSON(t, mux, http.MethodGet, "/me", "Bearer not-a-jwt|"+refresh, nil)
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", replay.Code)
	}
}

func TestUpdateName(t *testing.T) {
	mux := newTestMux(t)
	auth := signupUser(t, mux, "alice", "correct horse battery")

	rec := doJSON(t, mux, http.MethodPut, "/me/name", auth, updateNameRequest{Name: "  Alice Cooper  "})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out meResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.User.Name != "Alice Cooper" {
		t.Fatalf("name = %q, want trimmed %q", out.User.Name, "Alice Cooper")
	}

	// The change sticks.
	me := doJSON(t, mux, http.MethodGet, "/me", auth, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d", me.Code)
	}
	var after meResponse
	if err := json.Unmarshal(me.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if after.User.Name != "Alice Cooper" {
		t.Fatalf("persisted name = %q", after.User.Name)
	}

	// Blank names are rejected.
	bad := doJSON(t, mux, http.MethodPut, "/me/name", auth, updateNameRequest{Name: "   "})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("blank name status = %d, want 400", bad.Code)
	}
}

func TestDirectChatLifecycle(t *testing.T) {
	mux := newTestMux(t)
	aliceAuth := signupUser(t, mux, "alice", "correct horse battery")
	bobAuth := signupUser(t, mux, "bob", "correct horse battery")

	created := doJSON(t, mux, http.MethodPost, "/chats/direct", aliceAuth, chatCreateRequest{PeerUsername: "bob"})
	if created.Code != http.StatusOK {
		t.Fatalf("create: status %d body %s", created.Code, created.Body.String())
	}
	var chat chatResponse
	if err := json.Unmarshal(created.Body.Bytes(), &chat); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if chat.ChatID == "" || chat.Kind != "direct" || len(chat.MemberIDs) != 2 {
		t.Fatalf("unexpected chat: %+v", chat)
	}

	// Creating again from the other side resolves to the same chat.
	mirror := doJSON(t, mux, http.MethodPost, "/chats/direct", bobAuth, chatCreateRequest{PeerUsername: "alice"})
	if mirror.Code != http.StatusOK {
		t.Fatalf("mirror create: status %d", mirror.Code)
	}
	var mirrored chatResponse
	if err := json.Unmarshal(mirror.Body.Bytes(), &mirrored); err != nil {
		t.Fatalf("decode mirror: %v", err)
	}
	if mirrored.ChatID != chat.ChatID {
		t.Fatalf("direct chat duplicated: %s vs %s", mirrored.ChatID, chat.ChatID)
	}

	for _, auth := range []string{aliceAuth, bobAuth} {
		rec := doJSON(t, mux, http.MethodGet, "/chats", auth, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("list: status %d", rec.Code)
		}
		var list chatListResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
			t.Fatalf("decode list: %v", err)
		}
		if len(list.Chats) != 1 || list.Chats[0].ChatID != chat.ChatID {
			t.Fatalf("unexpected listing: %+v", list)
		}
	}
}

func TestDirectChatRejections(t *testing.T) {
	mux := newTestMux(t)
	auth := signupUser(t, mux, "alice", "correct horse battery")

	self := doJSON(t, mux, http.MethodPost, "/chats/direct", auth, chatCreateRequest{PeerUsername: "alice"})
	if self.Code != http.StatusBadRequest {
		t.Fatalf("self chat: status %d, want 400", self.Code)
	}

	ghost := doJSON(t, mux, http.MethodPost, "/chats/direct", auth, chatCreateRequest{PeerUsername: "nobody"})
	if ghost.Code != http.StatusNotFound {
		t.Fatalf("unknown peer: status %d, want 404", ghost.Code)
	}
}
