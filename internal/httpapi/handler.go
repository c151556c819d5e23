package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/railconnect/authcore"
	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/middleware"
)

const maxBodyBytes = 64 << 10

// Service is the engine surface the handlers call. *authcore.Engine
// implements it.
type Service interface {
	middleware.Validator
	Register(ctx context.Context, req authcore.Registration) (*authcore.Session, error)
	Login(ctx context.Context, creds authcore.Credentials) (*authcore.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*authcore.RefreshResult, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	Me(ctx context.Context, userID string) (identity.View, error)
	RequestPasswordReset(ctx context.Context, identifier string) error
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
	RequestVerification(ctx context.Context, userID string, channel identity.Channel) error
	ConfirmVerification(ctx context.Context, rawToken string) (identity.View, error)
	ChangePassword(ctx context.Context, userID, current, next string, remember bool) (*authcore.Session, error)
}

// Handler owns the /auth routes.
type Handler struct {
	svc       Service
	cookie    authcore.CookieConfig
	logger    *slog.Logger
	startedAt time.Time
}

// New returns a Handler. logger may be nil.
func New(svc Service, cookie authcore.CookieConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:       svc,
		cookie:    cookie,
		logger:    logger.With("component", "httpapi"),
		startedAt: time.Now(),
	}
}

// Register attaches every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	guard := middleware.Guard(h.svc, h.writeError)

	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("POST /auth/reset-password/{token}", h.handleResetPassword)
	mux.HandleFunc("POST /auth/verify/{token}", h.handleConfirmVerification)
	mux.Handle("GET /auth/me", guard(http.HandlerFunc(h.handleMe)))
	mux.Handle("POST /auth/verify/request", guard(http.HandlerFunc(h.handleRequestVerification)))
	mux.Handle("POST /auth/change-password", guard(http.HandlerFunc(h.handleChangePassword)))
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

type sessionResponse struct {
	Identity    identity.View `json:"identity"`
	AccessToken string        `json:"accessToken"`
	ExpiresAt   time.Time     `json:"expiresAt"`
}

type registerRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type forgotRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
}

type resetRequest struct {
	Password string `json:"password"`
}

type verifyRequest struct {
	Channel identity.Channel `json:"channel"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	RememberMe      bool   `json:"rememberMe"`
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func (h *Handler) session(w http.ResponseWriter, status int, message string, sess *authcore.Session) {
	h.setRefreshCookie(w, sess.RefreshToken, sess.RefreshExpiresAt)
	ok(w, status, message, sessionResponse{
		Identity:    sess.Identity,
		AccessToken: sess.AccessToken,
		ExpiresAt:   sess.AccessExpiresAt,
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, msgBadJSON)
		return
	}
	sess, err := h.svc.Register(r.Context(), authcore.Registration{
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.session(w, http.StatusCreated, "Account created", sess)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, msgBadJSON)
		return
	}
	sess, err := h.svc.Login(r.Context(), authcore.Credentials{
		Identifier: req.Identifier,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.session(w, http.StatusOK, "Login successful", sess)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Refresh(r.Context(), h.refreshCookie(r))
	if err != nil {
		if errors.Is(err, authcore.ErrTokenInvalid) {
			h.clearRefreshCookie(w)
		}
		h.writeError(w, r, err)
		return
	}
	if res.RefreshToken != "" {
		h.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	}
	ok(w, http.StatusOK, "", map[string]any{
		"accessToken": res.AccessToken,
		"expiresAt":   res.AccessExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	access, _ := bearer(r)
	if err := h.svc.Logout(r.Context(), access, h.refreshCookie(r)); err != nil {
		h.logger.WarnContext(r.Context(), "logout incomplete", slog.Any("error", err))
	}
	h.clearRefreshCookie(w)
	ok(w, http.StatusOK, "Logged out", nil)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	view, err := h.svc.Me(r.Context(), res.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "", map[string]any{"identity": view})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, msgBadJSON)
		return
	}
	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Email
	}
	if err := h.svc.RequestPasswordReset(r.Context(), identifier); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "If an account exists for that identifier, a reset link has been sent", nil)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, msgBadJSON)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), r.PathValue("token"), req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	ok(w, http.StatusOK, "Password has been reset", nil)
}

func (h *Handler) handleConfirmVerification(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.ConfirmVerification(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "Verified", map[string]any{"identity": view})
}

func (h *Handler) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, msgBadJSON)
		return
	}
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.svc.RequestVerification(r.Context(), res.UserID, req.Channel); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "Verification sent", nil)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, msgBadJSON)
		return
	}
	res, _ := middleware.AuthResultFromContext(r.Context())
	sess, err := h.svc.ChangePassword(r.Context(), res.UserID, req.CurrentPassword, req.NewPassword, req.RememberMe)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.session(w, http.StatusOK, "Password changed", sess)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ok(w, http.StatusOK, "", map[string]string{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}

func bearer(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
