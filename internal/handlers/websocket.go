package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
	"github.com/ternarybob/beacon/internal/services/events"
	"github.com/ternarybob/beacon/internal/services/jobs"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler streams per-job progress events to clients.
type WebSocketHandler struct {
	logger      arbor.ILogger
	registry    *jobs.Registry
	broadcaster *events.Broadcaster
}

// NewWebSocketHandler creates the progress streaming handler.
func NewWebSocketHandler(logger arbor.ILogger, registry *jobs.Registry, broadcaster *events.Broadcaster) *WebSocketHandler {
	return &WebSocketHandler{
		logger:      logger,
		registry:    registry,
		broadcaster: broadcaster,
	}
}

// wsSink adapts a websocket connection to the broadcaster sink interface.
// Writes are serialized; non-terminal events are throttled so a fast pipeline
// cannot flood slow clients. Terminal events always go through.
type wsSink struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	throttle *rate.Limiter
	done     chan struct{}
	doneOnce sync.Once
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{
		conn:     conn,
		throttle: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		done:     make(chan struct{}),
	}
}

func (s *wsSink) Send(event models.ProgressEvent) error {
	terminal := event.Status == string(models.JobStatusCompleted) ||
		event.Status == string(models.JobStatusFailed)
	if !terminal && !s.throttle.Allow() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := s.conn.WriteJSON(event)
	if err == nil && terminal {
		s.doneOnce.Do(func() { close(s.done) })
	}
	return err
}

// HandleProgress upgrades the connection and streams events for one job.
// GET /v1/audit/{id}/ws
func (h *WebSocketHandler) HandleProgress(w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	job := h.registry.Get(jobID)
	if job == nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown job id"),
			time.Now().Add(wsWriteTimeout),
		)
		return
	}

	sink := newWSSink(conn)

	// Current state first so late subscribers see where the job stands
	snapshot := models.ProgressEvent{
		Stage:     string(job.CurrentStage),
		Progress:  job.Progress(),
		Status:    string(job.Status),
		Timestamp: time.Now().UTC(),
	}
	if job.Status == models.JobStatusCompleted {
		snapshot.Progress = 100
	}

	sink.mu.Lock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err = conn.WriteJSON(snapshot)
	sink.mu.Unlock()
	if err != nil {
		return
	}

	switch job.Status {
	case models.JobStatusCompleted, models.JobStatusFailed:
		return
	}

	h.broadcaster.Subscribe(jobID, sink)
	defer h.broadcaster.Unsubscribe(jobID, sink)

	// The job may have finished between the snapshot and the subscription;
	// re-check so the client is not left waiting for an event already sent
	if job := h.registry.Get(jobID); job != nil {
		switch job.Status {
		case models.JobStatusCompleted, models.JobStatusFailed:
			progress := job.Progress()
			if job.Status == models.JobStatusCompleted {
				progress = 100
			}
			sink.Send(models.ProgressEvent{
				Progress:  progress,
				Status:    string(job.Status),
				Timestamp: time.Now().UTC(),
			})
			return
		}
	}

	// Read loop exists only to detect client disconnect
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-sink.done:
	case <-readClosed:
	}
}
