package handler

import (
	"context"
	"net/http"
	"sort"

	"collectord/internal/coordinator"
	"collectord/internal/model"
	"collectord/pkg/apierror"
	"collectord/pkg/response"

	"github.com/go-chi/chi/v5"
)

// Coordinator is the part of the action coordinator the HTTP layer drives.
type Coordinator interface {
	Holder() string
	Items() []coordinator.View
	Item(id string) (coordinator.View, error)
	Authorized() []string
	Pending() []model.PendingAction
	Submit(ctx context.Context, itemID string, kind model.ActionKind) (model.PendingAction, <-chan coordinator.Completion, error)
	Cancel(itemID string) (model.Outcome, error)
	Refresh(ctx context.Context) error
}

// ItemHandler serves the read side of the item table.
type ItemHandler struct {
	coord Coordinator
}

// NewItemHandler creates a new item handler.
func NewItemHandler(coord Coordinator) *ItemHandler {
	return &ItemHandler{coord: coord}
}

// ItemsResponse is the body of GET /api/v1/items.
type ItemsResponse struct {
	Holder string             `json:"holder"`
	Items  []coordinator.View `json:"items"`
}

// List handles GET /api/v1/items
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	response.OK(w, ItemsResponse{Holder: h.coord.Holder(), Items: h.coord.Items()})
}

// Get handles GET /api/v1/items/{id}
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.coord.Item(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, v)
}

// Authorizations handles GET /api/v1/authorizations
func (h *ItemHandler) Authorizations(w http.ResponseWriter, r *http.Request) {
	ids := h.coord.Authorized()
	if ids == nil {
		ids = []string{}
	}
	response.OK(w, map[string]any{"items": ids})
}

// Pending handles GET /api/v1/pending
func (h *ItemHandler) Pending(w http.ResponseWriter, r *http.Request) {
	actions := h.coord.Pending()
	sort.Slice(actions, func(i, j int) bool { return actions[i].SubmittedAt.Before(actions[j].SubmittedAt) })
	if actions == nil {
		actions = []model.PendingAction{}
	}
	response.OK(w, map[string]any{"actions": actions})
}

// Refresh handles POST /api/v1/refresh
func (h *ItemHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Refresh(r.Context()); err != nil {
		response.Error(w, apierror.ServiceUnavailable("backend unreachable: "+err.Error()))
		return
	}
	response.OK(w, ItemsResponse{Holder: h.coord.Holder(), Items: h.coord.Items()})
}
