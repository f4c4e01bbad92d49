package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/odvcencio/qaflow/pkg/bus"
	apperrors "github.com/odvcencio/qaflow/pkg/errors"
	"github.com/odvcencio/qaflow/pkg/sse"
	"github.com/odvcencio/qaflow/pkg/types"
)

// StreamEvent is the envelope of GET /api/events records.
type StreamEvent struct {
	Type      string          `json:"type"`
	Subject   string          `json:"subject,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
}

// handleRunTest relays the executor's event stream to the caller chunk by
// chunk. Closing the request aborts the run on the executor.
func (s *Server) handleRunTest(w http.ResponseWriter, r *http.Request) {
	var def types.TestCaseDefinition
	if status, err := decodeJSONBody(w, r, &def, maxBodyBytesRun, false); err != nil {
		writeError(w, status, err.Error())
		return
	}
	if s.executor == nil {
		writeError(w, http.StatusServiceUnavailable, "Test executor not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	body, err := s.executor.Stream(r.Context(), def)
	if err != nil {
		s.logger.Warn("executor rejected run", "error", err)
		if code := apperrors.GetCode(err); code != apperrors.ErrCodeExecution && code != apperrors.ErrCodeRateLimited {
			err = apperrors.Wrap(err, apperrors.ErrCodeExecution, "Failed to start test run")
		}
		s.writeAppError(w, r, err)
		return
	}
	defer body.Close()

	metricRunStreams.Inc()
	defer metricRunStreams.Dec()

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	buf := make([]byte, 32<<10)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return
			}
			flusher.Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && r.Context().Err() == nil {
				s.logger.Warn("run stream interrupted", "error", readErr)
			}
			return
		}
	}
}

// handleEvents streams the storage events of one project.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.eventBus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}
	projectID := strings.TrimSpace(r.URL.Query().Get("projectId"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "projectId is required")
		return
	}
	if _, err := s.ownedProject(r, projectID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	events := make(chan StreamEvent, 128)
	filter := bus.ProjectSubject(s.prefix, projectID) + ".>"

	sub, err := s.eventBus.Subscribe(ctx, filter, func(msg *bus.Message) {
		event := StreamEvent{Subject: msg.Subject, Timestamp: time.Now().UTC(), Type: msg.Subject}
		var head struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if json.Unmarshal(msg.Data, &head) == nil && head.Type != "" {
			event.Type = head.Type
			event.Data = head.Data
		}
		select {
		case events <- event:
		default:
			// Drop if the client is not keeping up
		}
	})
	if err != nil {
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInternal, "subscribe"))
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	if !s.writeStreamEvent(w, StreamEvent{Type: "connected", Timestamp: time.Now().UTC()}) {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-events:
			if !s.writeStreamEvent(w, event) {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeStreamEvent(w io.Writer, event StreamEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("encode stream event", "type", event.Type, "error", err)
		return true
	}
	_, err = w.Write(sse.Format(data))
	return err == nil
}
