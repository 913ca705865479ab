package handler

import (
	"context"
	"net/http"

	"collectord/internal/model"
	"collectord/pkg/apierror"
	"collectord/pkg/response"
)

// Channel is the realtime push channel.
type Channel interface {
	Status() model.ChannelStatus
	Reconnect(ctx context.Context)
}

// ChannelHandler exposes the connectivity indicator.
type ChannelHandler struct {
	channel Channel
	base    context.Context
}

// NewChannelHandler creates a channel handler. channel may be nil.
func NewChannelHandler(base context.Context, channel Channel) *ChannelHandler {
	return &ChannelHandler{channel: channel, base: base}
}

// Status handles GET /api/v1/channel
func (h *ChannelHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.channel == nil {
		response.OK(w, model.ChannelStatus{State: model.ConnClosed, LastError: "push channel disabled"})
		return
	}
	response.OK(w, h.channel.Status())
}

// Reconnect handles POST /api/v1/channel/reconnect. It resets the retry
// budget, which is the only way out of Failed.
func (h *ChannelHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	if h.channel == nil {
		response.Error(w, apierror.ServiceUnavailable("push channel disabled"))
		return
	}
	h.channel.Reconnect(h.base)
	response.Accepted(w, h.channel.Status())
}
