package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/platform/httpx"
	"github.com/atrium-cms/atrium/internal/shared"
)

// impersonatorTokenKey stores the administrator's own session token in the
// web session while they act as someone else, so stop can restore it.
const impersonatorTokenKey = "impersonator_token"

// Handler wires HTTP endpoints for user administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	mw        authz.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		mw:        mw,
		validator: validator.New(),
	}
}

// MountRoutes registers user administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourceUser, authz.ActionView))
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourceUser, authz.ActionUpdate))
		r.Patch("/{id}/role", h.handleSetRole)
		r.Post("/{id}/deactivate", h.handleDeactivate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourceSession, authz.ActionView))
		r.Get("/{id}/sessions", h.handleListSessions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourceSession, authz.ActionDelete))
		r.Delete("/{id}/sessions", h.handleRevokeSessions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourceUser, authz.ActionImpersonate))
		r.Post("/{id}/impersonate", h.handleImpersonate)
	})
	// Stopping only needs an authenticated principal; the forged session
	// itself never carries the impersonate grant.
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Authenticate)
		r.Post("/impersonate/stop", h.handleStopImpersonation)
	})
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
	Verified bool   `json:"verified"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageParams(r)
	users, pagination, err := h.service.List(r.Context(), page, perPage)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, toUserResponse(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"users": items,
		"meta": map[string]int{
			"page":        pagination.Page,
			"per_page":    pagination.PerPage,
			"total":       pagination.Total,
			"total_pages": pagination.TotalPages,
		},
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondRepoError(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}

// sessionResponse deliberately omits the token itself: listing must not hand
// an administrator a credential they can replay as the user.
type sessionResponse struct {
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at"`
	Impersonated   bool   `json:"impersonated"`
	ImpersonatorID int64  `json:"impersonator_id,omitempty"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	sessions, err := h.service.Sessions(r.Context(), id)
	if err != nil {
		h.respondRepoError(w, "list sessions", err)
		return
	}
	items := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionResponse{
			CreatedAt:      s.CreatedAt.Format(time.RFC3339),
			ExpiresAt:      s.ExpiresAt.Format(time.RFC3339),
			Impersonated:   s.ImpersonatorID != 0,
			ImpersonatorID: s.ImpersonatorID,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (h *Handler) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	actor, _ := authz.PrincipalFromContext(r.Context())
	if err := h.service.RevokeSessions(r.Context(), actor, id); err != nil {
		h.respondRepoError(w, "revoke sessions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "All sessions revoked."})
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req setRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role is required")
		return
	}
	role, err := authz.ParseRole(req.Role)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown role")
		return
	}

	actor, _ := authz.PrincipalFromContext(r.Context())
	if err := h.service.SetRole(r.Context(), actor, id, role); err != nil {
		h.respondRepoError(w, "set role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Role updated. Existing sessions were revoked."})
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	actor, _ := authz.PrincipalFromContext(r.Context())
	if actor.UserID == id {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", "you cannot deactivate your own account")
		return
	}
	if err := h.service.Deactivate(r.Context(), actor, id); err != nil {
		h.respondRepoError(w, "deactivate user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Account deactivated."})
}

func (h *Handler) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	actor, _ := authz.PrincipalFromContext(r.Context())
	sess, err := h.service.Impersonate(r.Context(), actor, id)
	if err != nil {
		if errors.Is(err, ErrImpersonationDenied) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "this account cannot be impersonated")
			return
		}
		h.respondRepoError(w, "impersonate", err)
		return
	}

	if web := shared.SessionFromContext(r.Context()); web != nil {
		web.Set(impersonatorTokenKey, actor.SessionToken)
		web.SetUser(strconv.FormatInt(sess.UserID, 10))
		web.SetAuthToken(sess.Token)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"token": sess.Token,
		"user":  map[string]any{"id": sess.UserID, "role": string(sess.Role)},
	})
}

func (h *Handler) handleStopImpersonation(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.PrincipalFromContext(r.Context())
	if err := h.service.StopImpersonation(r.Context(), actor); err != nil {
		if errors.Is(err, ErrImpersonationDenied) {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "not impersonating anyone")
			return
		}
		h.respondRepoError(w, "stop impersonation", err)
		return
	}

	if web := shared.SessionFromContext(r.Context()); web != nil {
		original := web.Get(impersonatorTokenKey)
		web.Delete(impersonatorTokenKey)
		web.SetUser(strconv.FormatInt(actor.ImpersonatorID, 10))
		web.SetAuthToken(original)
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Back to your own account."})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondRepoError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "user not found")
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func toUserResponse(u User) userResponse {
	return userResponse{
		ID:       u.ID,
		Email:    u.Email,
		Name:     u.Name,
		Role:     string(u.Role),
		IsActive: u.IsActive,
		Verified: u.EmailVerifiedAt != nil,
	}
}
