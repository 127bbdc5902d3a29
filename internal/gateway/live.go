// ABOUTME: Server-sent event stream for live queries
// ABOUTME: Each GET /api/live request owns one hub subscription for its lifetime

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/query"
)

// SSE event names on /api/live.
const (
	EventReady = "ready"
	EventData  = "data"
	EventError = "error"
)

// LiveData is the payload of a data event.
type LiveData struct {
	Records []query.Record `json:"records"`
}

// LiveError is the payload of an error event.
type LiveError struct {
	Error string `json:"error"`
}

// liveBuffer is how many events may wait for a slow client before the hub's
// delivery goroutine for this subscription blocks.
const liveBuffer = 64

// handleLive handles GET /api/live?collection=NAME&filter=JSON.
func (g *Gateway) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	collection := r.URL.Query().Get("collection")
	requested, err := query.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	principal := auth.UserID(r.Context())
	filter, err := scopeFilter(principal, collection, requested)
	if err != nil {
		g.sendAPIError(w, err)
		return
	}

	events := make(chan query.Event, liveBuffer)
	stop := make(chan struct{})
	sub, err := g.hub.Subscribe(r.Context(), collection, filter, func(ev query.Event) {
		select {
		case events <- ev:
		case <-stop:
		}
	})
	if err != nil {
		if errors.Is(err, query.ErrClosed) {
			g.sendJSONError(w, http.StatusServiceUnavailable, "gateway is shutting down")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	// stop must close first: Cancel waits for a handler that may be
	// blocked on a full events channel.
	defer func() {
		close(stop)
		_ = sub.Cancel()
		g.logger.Debug("live stream closed", "user_id", principal, "collection", collection)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := g.writeSSEEvent(w, EventReady, map[string]string{"collection": collection}); err != nil {
		return
	}
	flusher.Flush()
	g.logger.Debug("live stream opened", "user_id", principal, "collection", collection, "filter", filter.String())

	keepalive := time.NewTicker(g.keepAlive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-g.done:
			return
		case ev := <-events:
			var werr error
			if ev.IsError() {
				werr = g.writeSSEEvent(w, EventError, LiveError{Error: ev.Err.Error()})
			} else {
				werr = g.writeSSEEvent(w, EventData, LiveData{Records: ev.Records})
			}
			if werr != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON)
	return err
}
