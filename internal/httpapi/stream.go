package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/rickgao/wstool/internal/connection"
)

const streamBuffer = 64

// handleStream relays a subscriber connection's inbound frames as
// Server-Sent Events until the client leaves or the connection ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		fail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.registry.Subscribe(id, streamBuffer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("stream opened", "conn_id", id)
	defer func() {
		s.logger.Debug("stream closed", "conn_id", id, "dropped", sub.Dropped())
	}()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case msg, open := <-sub.Messages():
			if !open {
				fmt.Fprint(w, "event: close\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn("encode stream message", "error", err)
				continue
			}
			event := connection.FrameEvent(msg.Content)
			if event == "" || strings.ContainsAny(event, "\r\n") {
				event = "message"
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
