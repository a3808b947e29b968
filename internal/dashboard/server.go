// Package dashboard provides the real-time monitoring server: a WebSocket
// broadcast of sync progress plus a small HTTP API for triggering runs and
// inspecting status and history.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/engine"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/entity"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/registry"
	"github.com/Presh-Marketing/wrike-neon-sync/internal/warehouse"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSyncStarted indicates an entity sync began
	MessageTypeSyncStarted MessageType = "sync_started"

	// MessageTypeBatchProgress carries per-batch progress of a running sync
	MessageTypeBatchProgress MessageType = "batch_progress"

	// MessageTypeSyncComplete indicates an entity sync finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeSyncFailed indicates an entity sync aborted
	MessageTypeSyncFailed MessageType = "sync_failed"

	// MessageTypeStats carries warehouse row counts
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SyncStartedData announces a new run
type SyncStartedData struct {
	Entity string `json:"entity"`
	RunID  int    `json:"run_id"`
}

// SyncCompleteData carries a run's final accounting
type SyncCompleteData struct {
	Entity            string `json:"entity"`
	Processed         int    `json:"processed"`
	Skipped           int    `json:"skipped"`
	SuccessfulBatches int    `json:"successful_batches"`
	FailedBatches     int    `json:"failed_batches"`
	DurationMS        int64  `json:"duration_ms"`
}

// SyncFailedData carries an aborted run's error
type SyncFailedData struct {
	Entity string `json:"entity"`
	Error  string `json:"error"`
}

// SyncRunner triggers entity runs; satisfied by syncer.Syncer.
type SyncRunner interface {
	RunSync(ctx context.Context, entityName string, limit int, progress engine.ProgressFunc) (*engine.RunSummary, error)
	RunAll(ctx context.Context, limit int, progress engine.ProgressFunc) ([]*engine.RunSummary, error)
}

// Server manages WebSocket connections, broadcasts sync events, and serves
// the trigger/status API.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Sync wiring; runnerMu guards runner/entities so a descriptor-file
	// reload can swap them under a live server.
	runnerMu sync.RWMutex
	runner   SyncRunner
	entities *entity.Registry

	runs *registry.Registry
	db   *warehouse.DB

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on; 0 picks a random free port
	Port int

	// Runner executes triggered syncs
	Runner SyncRunner

	// Entities names the triggerable entity types
	Entities *entity.Registry

	// Runs tracks active and historical runs (default: fresh registry)
	Runs *registry.Registry

	// DB serves the stats endpoint; nil disables it
	DB *warehouse.DB

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// NewServer creates a new dashboard server
func NewServer(config *Config) *Server {
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Runs == nil {
		config.Runs = registry.New()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		runner:    config.Runner,
		entities:  config.Entities,
		runs:      config.Runs,
		db:        config.DB,
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// SetRunner swaps the runner and entity registry, used when the descriptor
// overlay file changes under a running server.
func (s *Server) SetRunner(runner SyncRunner, entities *entity.Registry) {
	s.runnerMu.Lock()
	s.runner = runner
	s.entities = entities
	s.runnerMu.Unlock()
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/sync/", s.handleTrigger)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock to avoid blocking broadcasts
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Current state straight away, so a freshly opened dashboard is not
	// blank until the next batch lands.
	snapshot, _ := json.Marshal(map[string]any{
		"active":  s.runs.Active(),
		"history": s.runs.History(),
	})
	welcome := Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      snapshot,
	}
	welcomeData, _ := json.Marshal(welcome)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcomeData)
	cancel()

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are not processed; the stream is one-way.
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
