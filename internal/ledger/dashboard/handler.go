package dashboard

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/intheblack/ledger/internal/ledger/daemon"
	ledgersync "github.com/intheblack/ledger/internal/ledger/sync"
)

// SyncCompleteData contains pull results
type SyncCompleteData struct {
	Op    string                 `json:"op"`
	Stats *ledgersync.PullStats `json:"stats,omitempty"`
}

// SyncErrorData contains a failed operation
type SyncErrorData struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}

// PushData contains a finished push
type PushData struct {
	Op string `json:"op"`
}

// StatsData contains running counters since the daemon started
type StatsData struct {
	Pulls      int       `json:"pulls"`
	Pushes     int       `json:"pushes"`
	Failures   int       `json:"failures"`
	LastPullAt time.Time `json:"last_pull_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Handler turns daemon events into dashboard messages. It implements
// daemon.Notifier and is safe for concurrent use.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

var _ daemon.Notifier = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server.
// New clients are greeted with the current counters.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{server: server, logger: logger}
	server.welcome = func() Message {
		return h.message(MessageTypeStats, h.Stats(), time.Now())
	}
	return h
}

// Notify implements daemon.Notifier.
func (h *Handler) Notify(e daemon.Event) {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	pull := isPull(e.Op)

	h.mu.Lock()
	switch {
	case e.Err != nil:
		h.stats.Failures++
		h.stats.LastError = e.Err.Error()
	case pull:
		h.stats.Pulls++
		h.stats.LastPullAt = at
	default:
		h.stats.Pushes++
	}
	stats := h.stats
	h.mu.Unlock()

	switch {
	case e.Err != nil:
		h.server.Broadcast(h.message(MessageTypeSyncError, SyncErrorData{Op: e.Op, Error: e.Err.Error()}, at))
	case pull:
		h.server.Broadcast(h.message(MessageTypeSyncComplete, SyncCompleteData{Op: e.Op, Stats: e.Stats}, at))
	default:
		h.server.Broadcast(h.message(MessageTypePush, PushData{Op: e.Op}, at))
	}
	h.server.Broadcast(h.message(MessageTypeStats, stats, at))
}

// Stats returns a snapshot of the counters.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) message(t MessageType, data interface{}, at time.Time) Message {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", t, err)
		raw = nil
	}
	return Message{Type: t, Timestamp: at, Data: raw}
}

func isPull(op string) bool {
	return strings.HasPrefix(op, "pull")
}
