package posts

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

// Handler wires HTTP endpoints for posts.
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

// MountRoutes registers post routes. The route gate only checks the role
// grant; the service repeats the check against the loaded author.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourcePost, authz.ActionView))
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourcePost, authz.ActionCreate))
		r.Post("/", h.handleCreate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourcePost, authz.ActionUpdate))
		r.Put("/{id}", h.handleUpdate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourcePost, authz.ActionDelete))
		r.Delete("/{id}", h.handleDelete)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourcePost, authz.ActionPublish))
		r.Post("/{id}/publish", h.handlePublish)
		r.Post("/{id}/unpublish", h.handleUnpublish)
	})
}

type postRequest struct {
	Title string `json:"title" validate:"required,min=3,max=200"`
	Body  string `json:"body" validate:"required"`
}

type postResponse struct {
	ID          int64  `json:"id"`
	AuthorID    int64  `json:"author_id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Body        string `json:"body"`
	Status      string `json:"status"`
	PublishedAt string `json:"published_at,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	principal, _ := authz.PrincipalFromContext(r.Context())
	page, perPage := shared.PageParams(r)
	posts, pagination, err := h.service.List(r.Context(), principal, page, perPage)
	if err != nil {
		h.logger.Error("list posts", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	items := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		items = append(items, toPostResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"posts": items,
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
	principal, _ := authz.PrincipalFromContext(r.Context())
	post, err := h.service.Get(r.Context(), principal, id)
	if err != nil {
		h.respondError(w, "get post", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"post": toPostResponse(post)})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "title and body are required")
		return
	}

	principal, _ := authz.PrincipalFromContext(r.Context())
	post, err := h.service.Create(r.Context(), principal, req.Title, req.Body)
	if err != nil {
		h.respondError(w, "create post", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"post": toPostResponse(post)})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req postRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "title and body are required")
		return
	}

	principal, _ := authz.PrincipalFromContext(r.Context())
	post, err := h.service.Update(r.Context(), principal, id, req.Title, req.Body)
	if err != nil {
		h.respondError(w, "update post", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"post": toPostResponse(post)})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	principal, _ := authz.PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), principal, id); err != nil {
		h.respondError(w, "delete post", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, true)
}

func (h *Handler) handleUnpublish(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, false)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, publish bool) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	principal, _ := authz.PrincipalFromContext(r.Context())
	var (
		post Post
		err  error
	)
	if publish {
		post, err = h.service.Publish(r.Context(), principal, id)
	} else {
		post, err = h.service.Unpublish(r.Context(), principal, id)
	}
	if err != nil {
		h.respondError(w, "set post status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"post": toPostResponse(post)})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid post id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "post not found")
	case errors.Is(err, authz.ErrDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toPostResponse(p Post) postResponse {
	resp := postResponse{
		ID:       p.ID,
		AuthorID: p.AuthorID,
		Title:    p.Title,
		Slug:     p.Slug,
		Body:     p.Body,
		Status:   p.Status,
	}
	if p.PublishedAt != nil {
		resp.PublishedAt = p.PublishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
