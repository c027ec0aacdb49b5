package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/c360studio/nimbus/job"
)

// sseWriter streams progress events to one client as server-sent events.
// Writes are serialized: the pipeline's heartbeat and log goroutines emit
// concurrently with stage transitions.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	dead    bool
}

// newSSEWriter sets the stream headers and flushes them. It returns an
// error when the ResponseWriter cannot stream.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// Close marks the stream dead. The handler must call it before returning
// so a pipeline still running never writes to the recycled ResponseWriter.
func (s *sseWriter) Close() {
	s.mu.Lock()
	s.dead = true
	s.mu.Unlock()
}

// Send writes one event frame. After the first failed write the stream is
// marked dead and further sends fail fast.
func (s *sseWriter) Send(ev job.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return fmt.Errorf("client disconnected")
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", ev.Marshal()); err != nil {
		s.dead = true
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
