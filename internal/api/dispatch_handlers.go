package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-green-corridor/internal/dispatch"
	"github.com/mr1hm/go-green-corridor/internal/sse"
)

const eventDispatch = "dispatch"

func renderDispatch(n dispatch.Notification) (sse.Event, bool) {
	return sse.Event{Name: eventDispatch, Data: n}, true
}

// dispatchStream delivers the caller's notifications while they are online.
func (h *Handler) dispatchStream(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	uid := profile(c).UID
	notes := make(chan dispatch.Notification)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(notes)
		h.Dispatcher.Run(ctx, uid, func(n dispatch.Notification) {
			select {
			case notes <- n:
			case <-ctx.Done():
			}
		})
	}()

	if h.Metrics != nil {
		h.Metrics.StreamOpened()
		defer h.Metrics.StreamClosed()
	}
	sse.Serve(c, h.PingInterval, notes, renderDispatch)
	cancel()
	for range notes {
	}
	<-done
}

// monitorStream mirrors every notification to an admin.
func (h *Handler) monitorStream(c *gin.Context) {
	if h.Monitor == nil {
		abort(c, http.StatusNotImplemented, "dispatch monitor is not enabled")
		return
	}
	id, ch := h.Monitor.Subscribe()
	defer h.Monitor.Unsubscribe(id)
	sse.Serve(c, h.PingInterval, ch, renderDispatch)
}
