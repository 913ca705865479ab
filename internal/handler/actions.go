package handler

import (
	"context"
	"net/http"
	"strconv"

	"collectord/internal/logging"
	"collectord/internal/model"
	"collectord/internal/repository"
	"collectord/pkg/apierror"
	"collectord/pkg/response"
	"collectord/pkg/uid"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// History lists journaled action events.
type History interface {
	List(ctx context.Context, f repository.JournalFilter) ([]model.ActionEvent, int64, error)
}

// ActionHandler starts, cancels and lists actions.
type ActionHandler struct {
	coord   Coordinator
	history History
	// base outlives requests; submitted actions run under it.
	base context.Context
	log  zerolog.Logger
}

// NewActionHandler creates an action handler. history may be nil.
func NewActionHandler(base context.Context, coord Coordinator, history History, log zerolog.Logger) *ActionHandler {
	return &ActionHandler{
		coord:   coord,
		history: history,
		base:    base,
		log:     logging.WithComponent(log, "actions"),
	}
}

// Start handles POST /api/v1/items/{id}/actions/{kind}.
// It answers 202 with the pending action; progress is read from the item.
func (h *ActionHandler) Start(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	kind, ok := model.ParseActionKind(chi.URLParam(r, "kind"))
	if !ok {
		response.Error(w, apierror.ValidationError("unknown action kind",
			apierror.FieldError{Field: "kind", Message: "must be one of authorize, convert, reclaim"}))
		return
	}

	a, done, err := h.coord.Submit(h.base, itemID, kind)
	if err != nil {
		response.Error(w, err)
		return
	}

	go func() {
		c, ok := <-done
		if !ok {
			return
		}
		ev := h.log.Info()
		if c.Err != nil {
			ev = h.log.Warn().Err(c.Err)
		}
		ev.Str("item", c.Outcome.ItemID).
			Str("action", c.Outcome.ActionID).
			Str("result", string(c.Outcome.Result)).
			Str("reason", c.Outcome.Reason).
			Msg(c.Outcome.Message)
	}()

	response.Accepted(w, a)
}

// Cancel handles POST /api/v1/items/{id}/cancel
func (h *ActionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	out, err := h.coord.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, out)
}

// History handles GET /api/v1/actions/history?item=&action=&page=&limit=
func (h *ActionHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		response.Error(w, apierror.ServiceUnavailable("journal disabled"))
		return
	}

	q := r.URL.Query()
	if id := q.Get("action"); id != "" && !uid.IsValid(id) {
		response.Error(w, apierror.ValidationError("invalid filter",
			apierror.FieldError{Field: "action", Message: "must be an action id"}))
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	events, total, err := h.history.List(r.Context(), repository.JournalFilter{
		ItemID:   q.Get("item"),
		ActionID: q.Get("action"),
		Limit:    limit,
		Offset:   (page - 1) * limit,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("journal list failed")
		response.Error(w, apierror.InternalError("failed to fetch history"))
		return
	}
	response.JSONWithMeta(w, http.StatusOK, events, page, limit, total)
}
