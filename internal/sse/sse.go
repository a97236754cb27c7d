// Package sse writes server-sent event streams from gin handlers.
package sse

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

const (
	DefaultPingInterval = 30 * time.Second
	retryMs             = 5000
)

type Event struct {
	Name string
	Data any
}

// Writer emits events on an open stream.
type Writer struct {
	w       gin.ResponseWriter
	flusher http.Flusher
}

// Start writes the stream headers. It fails when the response cannot be flushed.
func Start(c *gin.Context) (*Writer, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "retry: %d\n\n", retryMs)
	flusher.Flush()
	return &Writer{w: c.Writer, flusher: flusher}, nil
}

func (w *Writer) Send(e Event) error {
	b, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	if e.Name != "" {
		if _, err := fmt.Fprintf(w.w, "event: %s\n", e.Name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", b); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

func (w *Writer) Ping() error {
	if _, err := fmt.Fprint(w.w, "event: ping\ndata: {}\n\n"); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// Serve streams every value of src, rendered into an event, until src is
// closed or the client goes away. render may drop a value by returning false.
func Serve[T any](c *gin.Context, interval time.Duration, src <-chan T, render func(T) (Event, bool)) {
	w, err := Start(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			if err := w.Ping(); err != nil {
				return
			}
		case v, ok := <-src:
			if !ok {
				return
			}
			e, ok := render(v)
			if !ok {
				continue
			}
			if err := w.Send(e); err != nil {
				return
			}
		}
	}
}
