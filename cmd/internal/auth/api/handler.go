// Package authapi exposes the HTTP surface of the auth and chat
// subsystems: signup/signin, token refresh and signout, the me endpoint,
// and direct chat management. Token pairs ride the Authorization header
// in both directions.
package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/realtime"
	"parley/cmd/security/password"
)

// Handler wires HTTP endpoints to the identity, session and chat layers.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Service
	users    identity.Store
	chats    realtime.ChatStore
}

// NewHandler constructs the API handler. chats may be nil when the chat
// surface is disabled; its routes then return 503.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, users identity.Store, chats realtime.ChatStore) (*Handler, error) {
	if sessions == nil || users == nil {
		return nil, errors.New("authapi: nil dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		users:    users,
		chats:    chats,
	}, nil
}

// Register wires the routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/signup", h.handleSignup)
	mux.HandleFunc("/auth/signin", h.handleSignin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/signout", h.handleSignout)
	mux.HandleFunc("/me", h.withAuth(h.handleMe))
	mux.HandleFunc("/me/name", h.withAuth(h.handleUpdateName))
	mux.HandleFunc("/chats", h.withAuth(h.handleChats))
	mux.HandleFunc("/chats/direct", h.withAuth(h.handleChatCreate))
}

// ---- auth endpoints ----

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.cfg.SignupEnabled {
		writeError(w, http.StatusForbidden, "signup_disabled", "signup is disabled")
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	name := strings.TrimSpace(req.Name)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}
	if name == "" {
		name = username
	}

	ctx := r.Context()
	now := time.Now().UTC()

	id, pair, err := h.sessions.SignUp(ctx, username, name, req.Password, now)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort), errors.Is(err, password.ErrPasswordTooLong):
			writeError(w, http.StatusBadRequest, "invalid_password", "password does not meet the policy")
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "username_taken", "username already in use")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.signup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.log.Info("auth.signup.ok", "user_id", id.UserID, "ip", clientIP(r, h.cfg.TrustProxy))

	u, err := h.users.GetByID(ctx, id.UserID)
	if err != nil {
		h.log.Error("auth.signup.readback.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	setPairHeader(w, pair)
	writeJSON(w, http.StatusCreated, authResponse{User: toUserResponse(u)})
}

func (h *Handler) handleSignin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req signinRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	id, pair, err := h.sessions.SignIn(ctx, req.Username, req.Password, now)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.signin.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.signin.ok", "user_id", id.UserID, "ip", clientIP(r, h.cfg.TrustProxy))

	u, err := h.users.GetByID(ctx, id.UserID)
	if err != nil {
		h.log.Error("auth.signin.readback.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	setPairHeader(w, pair)
	writeJSON(w, http.StatusOK, authResponse{User: toUserResponse(u)})
}

// handleRefresh forces a rotation regardless of access token freshness.
// Passing an empty access token to Validate always takes the refresh path.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	_, refresh, ok := pairFromRequest(r)
	if !ok || refresh == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "refresh token required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	id, pair, err := h.sessions.Validate(ctx, "", refresh, now)
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "session not active")
			return
		}
		h.log.Error("auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	u, err := h.users.GetByID(ctx, id.UserID)
	if err != nil {
		h.log.Error("auth.refresh.readback.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	setPairHeader(w, *pair)
	writeJSON(w, http.StatusOK, authResponse{User: toUserResponse(u)})
}

func (h *Handler) handleSignout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	_, refresh, ok := pairFromRequest(r)
	if !ok || refresh == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "refresh token required")
		return
	}

	ctx := r.Context()
	if err := h.sessions.SignOut(ctx, session.ByToken(refresh)); err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session reference")
			return
		}
		h.log.Error("auth.signout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ---- authenticated endpoints ----

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, _ := session.IdentityFrom(r.Context())

	u, err := h.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

// handleUpdateName changes the display name. Outstanding access tokens
// keep the old name claim until their next rotation; the store is the
// source of truth and /me reads it directly.
func (h *Handler) handleUpdateName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req updateNameRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	id, _ := session.IdentityFrom(r.Context())

	u, err := h.users.UpdateName(r.Context(), id.UserID, name, time.Now().UTC())
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "user not found")
			return
		}
		if identity.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid name")
			return
		}
		h.log.Error("auth.update_name.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.update_name.ok", "user_id", id.UserID)
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.chats == nil {
		writeError(w, http.StatusServiceUnavailable, "chats_unavailable", "chat storage not configured")
		return
	}

	id, _ := session.IdentityFrom(r.Context())

	list, err := h.chats.ListChats(r.Context(), id.UserID)
	if err != nil {
		h.log.Error("chats.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := chatListResponse{Chats: make([]chatResponse, 0, len(list))}
	for _, c := range list {
		out.Chats = append(out.Chats, chatResponse{
			ChatID:    c.ChatID,
			Kind:      c.Kind,
			MemberIDs: c.MemberIDs,
			LastSeq:   c.LastSeq,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleChatCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.chats == nil {
		writeError(w, http.StatusServiceUnavailable, "chats_unavailable", "chat storage not configured")
		return
	}

	var req chatCreateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	peerName := strings.TrimSpace(req.PeerUsername)
	if peerName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "peer_username is required")
		return
	}

	ctx := r.Context()
	id, _ := session.IdentityFrom(ctx)

	peer, err := h.users.GetByUsername(ctx, peerName, false)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "unknown_user", "no such user")
			return
		}
		h.log.Error("chats.create.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if peer.ID == id.UserID {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot chat with yourself")
		return
	}

	chatID, err := h.chats.EnsureDirectChat(ctx, id.UserID, peer.ID, time.Now().UTC())
	if err != nil {
		h.log.Error("chats.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	members := []string{id.UserID, peer.ID}
	if members[1] < members[0] {
		members[0], members[1] = members[1], members[0]
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ChatID:    chatID,
		Kind:      "direct",
		MemberIDs: members,
	})
}

// ---- helpers ----

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
