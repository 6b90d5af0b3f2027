package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arbiterlabs/arbiter/pkg/events"
	"github.com/arbiterlabs/arbiter/pkg/store"
)

// StreamEvents handles GET /api/v1/debates/:id/events as an SSE stream.
// Reconnecting clients send Last-Event-ID (or ?last_event_id=) to resume
// past the events they already saw.
func (s *Server) StreamEvents(c *gin.Context) {
	id := c.Param("id")

	ctx, cancel := timeoutCtx(c)
	d, err := s.store.GetDebate(ctx, id)
	cancel()
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, http.StatusNotFound, "debate not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load debate")
		return
	}

	fromSeq := lastEventID(c)

	// Terminal debates with nothing retained: answer from the row instead
	// of holding a stream open that will never produce events.
	if d.Status.IsTerminal() && fromSeq == 0 {
		c.JSON(http.StatusOK, toDebateResponse(d))
		return
	}

	stream, err := s.broker.Subscribe(c.Request.Context(), events.DebateChannel(id), fromSeq)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to subscribe")
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	sseClients.Inc()
	defer sseClients.Dec()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			frame, err := events.FormatSSE(ev)
			if err != nil {
				continue
			}
			if _, err := c.Writer.Write(frame); err != nil {
				return
			}
			c.Writer.Flush()
			if events.IsTerminal(ev.Type) {
				return
			}
		}
	}
}

// lastEventID reads the resume position from the standard SSE header or a
// query parameter.
func lastEventID(c *gin.Context) int64 {
	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		raw = c.Query("last_event_id")
	}
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
