package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/platform/httpx"
	"github.com/atrium-cms/atrium/internal/sessions"
	"github.com/atrium-cms/atrium/internal/shared"
)

// tokenProblem is the single user-facing message for every rejected token so
// a caller cannot learn whether a token ever existed.
const tokenProblem = "The link is invalid or has expired. Please request a new one."

// SignInRecorder counts sign-in attempts for observability.
type SignInRecorder interface {
	RecordSignIn(success bool)
}

// Handler wires HTTP endpoints for the account flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	resolver       *authz.Resolver
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	metrics        SignInRecorder
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, resolver *authz.Resolver, sessionManager *shared.SessionManager, csrfManager *shared.CSRFManager, metrics SignInRecorder) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		resolver:       resolver,
		sessionManager: sessionManager,
		csrfManager:    csrfManager,
		metrics:        metrics,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router. Credential
// endpoints carry a tighter per-IP rate limit than the rest of the app.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)
		r.Post("/verify/resend", h.handleResendVerification)
		r.Post("/forgot", h.handleForgotPassword)
		r.Post("/reset", h.handleResetPassword)
	})
	r.Get("/verify", h.handleVerifyEmail)
	r.Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=2,max=120"`
	Password string `json:"password" validate:"required,min=8"`
}

type forgotRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

type userResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// showLogin primes the web session and hands out the CSRF token clients must
// echo on mutating requests. It doubles as the redirect target for
// unauthenticated browser navigation.
func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": csrfToken})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	user, sess, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if h.metrics != nil {
		h.metrics.RecordSignIn(err == nil)
	}
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.UserSafeMessage(err))
			return
		}
		h.logger.Error("sign in", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	if web := shared.SessionFromContext(r.Context()); web != nil {
		web.SetUser(strconv.FormatInt(user.ID, 10))
		web.SetAuthToken(sess.Token)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user":  toUserResponse(user),
		"token": sess.Token,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, err := h.resolver.Resolve(r.Context(), r)
	if err != nil {
		if errors.Is(err, authz.ErrUnauthenticated) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.logger.Error("resolve principal", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if err := h.service.SignOut(r.Context(), principal); err != nil {
		h.logger.Error("sign out", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if web := shared.SessionFromContext(r.Context()); web != nil {
		h.sessionManager.Destroy(web)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		if errors.Is(err, shared.ErrDuplicateEmail) {
			httpx.Problem(w, http.StatusConflict, "Duplicate", shared.UserSafeMessage(err))
			return
		}
		h.logger.Error("register", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"user":    toUserResponse(user),
		"message": "Check your inbox for a verification link.",
	})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", tokenProblem)
		return
	}
	if err := h.service.VerifyEmail(r.Context(), token); err != nil {
		h.respondTokenError(w, "verify email", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Email verified. You can sign in now."})
}

// handleResendVerification covers the account whose verification link
// expired before it was used: the old token is gone for good once presented,
// so recovery means minting a new one.
func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		h.logger.Error("resend verification", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	// Identical response whether the account exists or not.
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "If that address is awaiting verification, a new link is on its way."})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	if err := h.service.StartPasswordReset(r.Context(), req.Email); err != nil {
		h.logger.Error("start password reset", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	// Identical response whether the account exists or not.
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "If that address is registered, a reset link is on its way."})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.respondTokenError(w, "reset password", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Password updated. Sign in with your new password."})
}

func (h *Handler) respondTokenError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, sessions.ErrInvalid) || errors.Is(err, sessions.ErrExpired) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Token", tokenProblem)
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func toUserResponse(u *User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, Role: string(u.Role)}
}

// HandleLoginForTest exposes the login handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) { h.handleLogin(w, r) }

// HandleLogoutForTest exposes the logout handler for tests.
func (h *Handler) HandleLogoutForTest(w http.ResponseWriter, r *http.Request) { h.handleLogout(w, r) }

// HandleRegisterForTest exposes the register handler for tests.
func (h *Handler) HandleRegisterForTest(w http.ResponseWriter, r *http.Request) {
	h.handleRegister(w, r)
}

// HandleVerifyForTest exposes the verification handler for tests.
func (h *Handler) HandleVerifyForTest(w http.ResponseWriter, r *http.Request) {
	h.handleVerifyEmail(w, r)
}

// HandleResendForTest exposes the resend-verification handler for tests.
func (h *Handler) HandleResendForTest(w http.ResponseWriter, r *http.Request) {
	h.handleResendVerification(w, r)
}

// HandleForgotForTest exposes the forgot-password handler for tests.
func (h *Handler) HandleForgotForTest(w http.ResponseWriter, r *http.Request) {
	h.handleForgotPassword(w, r)
}

// HandleResetForTest exposes the reset-password handler for tests.
func (h *Handler) HandleResetForTest(w http.ResponseWriter, r *http.Request) {
	h.handleResetPassword(w, r)
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Error()
	}
	return "invalid input"
}
