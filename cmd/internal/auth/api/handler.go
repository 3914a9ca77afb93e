package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"courier/cmd/identity"
	"courier/cmd/security/token"
)

// Handler wires HTTP account endpoints to the identity store and the
// access-token manager.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	store  identity.Store
	tokens *token.Manager

	limiter *loginLimiter

	// dummyHash makes login timing independent of account existence.
	dummyHash string
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, store identity.Store, tokens *token.Manager, cfg Config) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("auth: nil identity store")
	}
	if tokens == nil {
		return nil, errors.New("auth: nil token manager")
	}

	h := &Handler{
		log:     log,
		cfg:     cfg,
		store:   store,
		tokens:  tokens,
		limiter: newLoginLimiter(cfg.LoginIPMax, cfg.LoginIPWindow),
	}

	if hash, err := identity.HashPassword("dummy-password-for-timing-only", identity.DefaultArgon2idParams()); err == nil {
		h.dummyHash = hash
	}
	return h, nil
}

// Register wires auth and user routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)

	mux.Handle("GET /api/users/me", RequireUser(h.tokens, http.HandlerFunc(h.handleMe)))
	mux.Handle("PUT /api/users/me", RequireUser(h.tokens, http.HandlerFunc(h.handleUpdateProfile)))
	mux.Handle("PUT /api/users/me/status", RequireUser(h.tokens, http.HandlerFunc(h.handleUpdateStatus)))
	mux.Handle("GET /api/users/{id}", RequireUser(h.tokens, http.HandlerFunc(h.handleUserByID)))
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeInvalidJSON(w)
		return
	}

	now := time.Now().UTC()
	u, err := h.store.CreateUser(r.Context(), identity.CreateUserInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Now:         now,
	})
	switch {
	case err == nil:
	case identity.IsConflict(err):
		writeError(w, http.StatusConflict, codeAlreadyExists, "username or email already registered")
		return
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	default:
		h.log.Error("auth.register.fail", "err", err)
		writeServerError(w)
		return
	}

	h.log.Info("auth.register", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeInvalidJSON(w)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "username and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	if blocked, retryAfter := h.limiter.blocked(ip, now); blocked {
		writeRateLimited(w, retryAfter)
		return
	}

	u, err := h.store.UserByUsername(ctx, req.Username)
	if err != nil {
		// Timing resistance: run a dummy verify when the account is missing.
		if h.dummyHash != "" {
			_, _ = identity.VerifyPassword(req.Password, h.dummyHash)
		}
		h.limiter.recordFailure(ip, now)
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
		return
	}

	ok, err := identity.VerifyPassword(req.Password, u.PasswordHash)
	if err != nil || !ok {
		h.limiter.recordFailure(ip, now)
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
		return
	}

	if updated, err := h.store.SetOnlineStatus(ctx, u.ID, true, now); err == nil {
		u = updated
	} else {
		h.log.Warn("auth.login.presence.fail", "user_id", u.ID, "err", err)
	}

	signed, expiresAt, err := h.tokens.Issue(u.ID, now)
	if err != nil {
		h.log.Error("auth.login.issue.fail", "err", err)
		writeServerError(w)
		return
	}

	h.log.Info("auth.login", "user_id", u.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		User:        toUserResponse(u),
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeUnauthorized(w, "missing identity")
		return
	}

	u, err := h.store.UserByID(r.Context(), userID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, codeNotFound, "account not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeUnauthorized(w, "missing identity")
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeInvalidJSON(w)
		return
	}

	u, err := h.store.UpdateProfile(r.Context(), identity.UpdateProfileInput{
		UserID:      userID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, codeNotFound, "account not found")
			return
		}
		h.log.Error("auth.profile.update.fail", "err", err)
		writeServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeUnauthorized(w, "missing identity")
		return
	}

	var req statusRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeInvalidJSON(w)
		return
	}

	u, err := h.store.SetOnlineStatus(r.Context(), userID, req.IsOnline, time.Now().UTC())
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, codeNotFound, "account not found")
			return
		}
		h.log.Error("auth.status.update.fail", "err", err)
		writeServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleUserByID(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserID(r.Context()); !ok {
		writeUnauthorized(w, "missing identity")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid user id")
		return
	}

	u, err := h.store.UserByID(r.Context(), id)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, codeNotFound, "user not found")
			return
		}
		h.log.Error("auth.user.lookup.fail", "err", err)
		writeServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, toPublicUserResponse(u))
}
