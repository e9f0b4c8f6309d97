// Package dashboard streams sync activity to WebSocket clients.
//
// The daemon feeds finished sync tasks into a Handler, which turns them into
// messages and broadcasts them to every connected client.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeWelcome is sent once to every new client
	MessageTypeWelcome MessageType = "welcome"

	// MessageTypeSyncComplete indicates a pull finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeSyncError indicates a push or pull failed
	MessageTypeSyncError MessageType = "sync_error"

	// MessageTypePush indicates a push finished
	MessageTypePush MessageType = "push"

	// MessageTypeStats carries running counters
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// clientQueue is the number of frames a client may fall behind before it is
// disconnected.
const clientQueue = 64

const writeTimeout = 5 * time.Second

// client is one WebSocket connection and its outgoing frames.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server accepts dashboard clients and fans messages out to them. Every
// client has its own queue and writer, so a stalled client never delays the
// others.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	welcome func() Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on; 0 picks a free port (default: 7420)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   7420,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a dashboard server. It does not listen until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		clients: make(map[*client]struct{}),
		welcome: func() Message { return Message{Type: MessageTypeWelcome} },
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Start listens on the configured address and serves /ws, /health and /.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	router := mux.NewRouter()
	router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)

	s.http = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Serving dashboard on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Serve failed: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the HTTP server down. Broadcasts
// after Stop are ignored.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	s.closed = true
	gone := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		gone = append(gone, s.detachLocked(c))
	}
	s.mu.Unlock()

	for _, c := range gone {
		_ = c.conn.CloseNow()
	}

	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard shutdown failed: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Broadcast queues msg for every connected client. It never blocks: a client
// whose queue is full is disconnected.
func (s *Server) Broadcast(msg Message) {
	data, err := encodeMessage(msg)
	if err != nil {
		s.logger.Printf("Dropping %s message: %v", msg.Type, err)
		return
	}

	var slow []*client
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, s.detachLocked(c))
		}
	}
	s.mu.Unlock()

	for _, c := range slow {
		s.logger.Println("Disconnecting client that fell behind")
		_ = c.conn.CloseNow()
	}
}

func encodeMessage(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

// detachLocked unregisters c and closes its queue. s.mu must be held.
func (s *Server) detachLocked(c *client) *client {
	delete(s.clients, c)
	close(c.send)
	return c
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	welcome, err := encodeMessage(s.welcome())
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientQueue)}
	// Queued before registration, so it precedes any broadcast.
	c.send <- welcome

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.CloseNow()
		return
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.wg.Add(1)
	s.mu.Unlock()
	s.logger.Printf("Client connected (%d connected)", n)

	go s.writeLoop(c)
	s.readLoop(c)
}

// writeLoop sends queued frames until the queue is closed or a write fails.
func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	for data := range c.send {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.drop(c)
			return
		}
	}
}

// readLoop discards client frames until the connection drops.
func (s *Server) readLoop(c *client) {
	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			s.drop(c)
			return
		}
	}
}

// drop unregisters c if it is still connected and closes the connection.
func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		s.detachLocked(c)
	}
	n := len(s.clients)
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = c.conn.CloseNow()
	s.logger.Printf("Client disconnected (%d connected)", n)
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Clients: s.ClientCount()})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Ledger Sync</title></head>
<body>
<h1>Ledger Sync</h1>
<p>Follow pushes and pulls at <code>ws://%s/ws</code>. Health: <a href="/health">/health</a>.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the listening address, or the configured one before Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
