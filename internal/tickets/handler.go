package tickets

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/platform/httpx"
	"github.com/atrium-cms/atrium/internal/shared"
)

// Handler wires HTTP endpoints for the helpdesk queue.
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

// MountRoutes registers ticket routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourceTicket, authz.ActionView))
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourceTicket, authz.ActionCreate))
		r.Post("/", h.handleCreate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourceTicket, authz.ActionUpdate))
		r.Put("/{id}", h.handleUpdate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourceTicket, authz.ActionAssign))
		r.Post("/{id}/assign", h.handleAssign)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(authz.ResourceTicket, authz.ActionClose))
		r.Post("/{id}/close", h.handleClose)
	})
}

type ticketRequest struct {
	Subject string `json:"subject" validate:"required,min=3,max=200"`
	Body    string `json:"body" validate:"required"`
}

type assignRequest struct {
	AssigneeID int64 `json:"assignee_id" validate:"required,gt=0"`
}

type ticketResponse struct {
	ID          int64  `json:"id"`
	RequesterID int64  `json:"requester_id"`
	AssigneeID  *int64 `json:"assignee_id,omitempty"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Status      string `json:"status"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	principal, _ := authz.PrincipalFromContext(r.Context())
	page, perPage := shared.PageParams(r)
	tickets, pagination, err := h.service.List(r.Context(), principal, page, perPage)
	if err != nil {
		h.logger.Error("list tickets", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	items := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		items = append(items, toTicketResponse(t))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"tickets": items,
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
	t, err := h.service.Get(r.Context(), principal, id)
	if err != nil {
		h.respondError(w, "get ticket", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ticket": toTicketResponse(t)})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req ticketRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subject and body are required")
		return
	}

	principal, _ := authz.PrincipalFromContext(r.Context())
	t, err := h.service.Create(r.Context(), principal, req.Subject, req.Body)
	if err != nil {
		h.respondError(w, "create ticket", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"ticket": toTicketResponse(t)})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ticketRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subject and body are required")
		return
	}

	principal, _ := authz.PrincipalFromContext(r.Context())
	t, err := h.service.Update(r.Context(), principal, id, req.Subject, req.Body)
	if err != nil {
		h.respondError(w, "update ticket", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ticket": toTicketResponse(t)})
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "assignee_id is required")
		return
	}

	principal, _ := authz.PrincipalFromContext(r.Context())
	t, err := h.service.Assign(r.Context(), principal, id, req.AssigneeID)
	if err != nil {
		h.respondError(w, "assign ticket", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ticket": toTicketResponse(t)})
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	principal, _ := authz.PrincipalFromContext(r.Context())
	t, err := h.service.Close(r.Context(), principal, id)
	if err != nil {
		h.respondError(w, "close ticket", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ticket": toTicketResponse(t)})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid ticket id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "ticket not found")
	case errors.Is(err, authz.ErrDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, ErrClosed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", "ticket is already closed")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toTicketResponse(t Ticket) ticketResponse {
	return ticketResponse{
		ID:          t.ID,
		RequesterID: t.RequesterID,
		AssigneeID:  t.AssigneeID,
		Subject:     t.Subject,
		Body:        t.Body,
		Status:      t.Status,
	}
}
