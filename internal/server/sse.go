package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/loomlabs/loom/internal/event"
)

// sseHeartbeatInterval keeps intermediary proxies from closing an idle
// connection, mirroring the teacher's sse.go.
const sseHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for one event-stream response,
// grounded on the teacher's sse.go writer (ResponseController-first flush,
// falling back to http.Flusher).
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("server: streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEvent(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", topic, data); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprint(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// streamTopic subscribes to topic on bus and relays every event to the
// client as an SSE frame until the request context is cancelled.
func streamTopic(w http.ResponseWriter, r *http.Request, bus *event.Bus, topic string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	events := make(chan event.Event, 16)
	unsub := bus.Subscribe(topic, func(e event.Event) {
		select {
		case events <- e:
		default:
		}
	})
	defer unsub()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent(topic, e.Payload); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
