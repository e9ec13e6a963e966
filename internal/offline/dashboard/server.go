// Package dashboard pushes sync engine activity to WebSocket clients.
//
// A daemon wires the engine's hooks (outbox changes, drains, drops,
// reconciliations, network transitions) into a Handler, which formats them
// as Messages and broadcasts them through a Server. The server also answers
// /health and /status with JSON so scripts can poll instead of subscribing.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"maps"
	"net"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType identifies a dashboard message.
type MessageType string

const (
	// MessageTypeQueueChanged carries the new outbox length.
	MessageTypeQueueChanged MessageType = "queue_changed"

	// MessageTypeDrainComplete is sent after every drain that ran.
	MessageTypeDrainComplete MessageType = "drain_complete"

	// MessageTypeSyncFailed reports items that failed or were dropped.
	MessageTypeSyncFailed MessageType = "sync_failed"

	// MessageTypeReconcileComplete is sent after a full pull.
	MessageTypeReconcileComplete MessageType = "reconcile_complete"

	// MessageTypeNetworkStatus reports a connectivity change.
	MessageTypeNetworkStatus MessageType = "network_status"

	// MessageTypeStatus is the snapshot sent to a client on connect.
	MessageTypeStatus MessageType = "status"
)

// Message is one broadcast frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusFunc reports the current engine status for /status and the
// connect-time snapshot.
type StatusFunc func() Status

// Status is the engine state exposed by /status.
type Status struct {
	UserID      string     `json:"user_id,omitempty"`
	Connected   bool       `json:"connected"`
	NetworkType string     `json:"network_type,omitempty"`
	Queued      int        `json:"queued"`
	Jobs        int        `json:"jobs"`
	TimeEntries int        `json:"time_entries"`
	PayPeriods  int        `json:"pay_periods"`
	ActiveEntry string     `json:"active_entry,omitempty"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	Dropped     int64      `json:"dropped"`
}

// Server manages WebSocket clients and broadcasts messages to them.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	status   StatusFunc

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on; 0 picks a free port.
	Port int

	// Host to bind (default: 127.0.0.1)
	Host string

	// Status backs /status; nil serves an empty status.
	Status StatusFunc

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   7420,
		Host:   "127.0.0.1",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a dashboard server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Host == "" {
		config.Host = DefaultConfig().Host
	}
	status := config.Status
	if status == nil {
		status = func() Status { return Status{} }
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		status:    status,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// Start listens and begins broadcasting.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes all clients and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down dashboard: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Println("Stopped")
	return nil
}

// Broadcast queues msg for every client. It never blocks; when the buffer is
// full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case <-s.ctx.Done():
	case s.broadcast <- msg:
	default:
		s.logger.Printf("Warning: broadcast buffer full, dropping %s", msg.Type)
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			for _, conn := range s.connected() {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Dropping client after failed send: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// connected copies the client set so sends happen without the lock.
func (s *Server) connected() []*websocket.Conn {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return slices.Collect(maps.Keys(s.clients))
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// The snapshot goes out before the client can receive broadcasts.
	if data, err := json.Marshal(s.statusMessage()); err == nil {
		if err := s.write(conn, data); err != nil {
			_ = conn.Close(websocket.StatusInternalError, "")
			return
		}
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Client connected (total: %d)", n)

	go s.readLoop(conn)
}

func (s *Server) statusMessage() Message {
	data, _ := json.Marshal(s.status())
	return Message{Type: MessageTypeStatus, Timestamp: time.Now(), Data: data}
}

// readLoop only detects disconnects; clients never send anything useful.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	n := len(s.clients)
	s.clientsMu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", n)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
