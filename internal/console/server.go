// Package console serves an optional local view of the bot: the active
// process, host status, and a live WebSocket mirror of process output. It is
// read-only; nothing received here reaches a process.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"raspibot/internal/probe"
	"raspibot/internal/protocol"
	"raspibot/internal/supervisor"
)

const (
	pingInterval    = 30 * time.Second
	readDeadline    = 60 * time.Second
	writeDeadline   = 10 * time.Second
	clientBufSize   = 256
	shutdownTimeout = 5 * time.Second
)

// ErrNotLoopback is returned by ListenAndServe for an address that would
// expose the console beyond this host.
var ErrNotLoopback = errors.New("console address must be loopback")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return allowedOrigin(r.Header.Get("Origin"))
	},
}

// ProcessSource is the supervisor surface the console observes.
type ProcessSource interface {
	Active() (supervisor.Info, bool)
	Subscribe() (string, <-chan supervisor.Event, []supervisor.Event)
	Unsubscribe(subID string)
}

// StatusSource reports host status.
type StatusSource interface {
	Collect(ctx context.Context) probe.Status
}

// Server manages WebSocket clients and the REST endpoints.
type Server struct {
	procs  ProcessSource
	status StatusSource
	log    *zap.SugaredLogger

	clients   map[*client]bool
	clientsMu sync.RWMutex
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	subID     string
	server    *Server
}

// New creates a console server.
func New(procs ProcessSource, status StatusSource, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		procs:   procs,
		status:  status,
		log:     log,
		clients: make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /process", s.handleGetProcess)
	mux.HandleFunc("GET /status", s.handleGetStatus)

	return corsMiddleware(mux)
}

// corsMiddleware admits browser requests from pages served on this host
// only. Requests without an Origin header are not cross-origin and pass.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !allowedOrigin(origin) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves on addr until ctx is cancelled. addr must name a
// loopback host; wildcard and external addresses are refused before binding.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := checkLoopback(addr); err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("console listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.closeClients()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("parse console address %q: %w", addr, err)
	}
	if !isLoopbackHost(host) {
		return fmt.Errorf("%w: %q", ErrNotLoopback, addr)
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func allowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return isLoopbackHost(u.Hostname())
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade error", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientBufSize),
		done:   make(chan struct{}),
		server: s,
	}

	// Subscribe hands over history and the live channel atomically, so
	// replaying one then draining the other loses and duplicates nothing.
	subID, events, history := s.procs.Subscribe()
	c.subID = subID

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	go c.writePump()
	go c.forward(history, events)
	go c.readPump()
}

// forward replays history, then relays live events until the subscription
// is closed.
func (c *client) forward(history []supervisor.Event, events <-chan supervisor.Event) {
	for _, event := range history {
		c.sendEvent(event)
	}
	for event := range events {
		c.sendEvent(event)
	}
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer c.server.removeClient(c)

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Debugw("websocket read error", "error", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues data for the write pump. Full buffers drop the message.
func (c *client) enqueue(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		// Client buffer full, skip.
	}
}

func (c *client) sendEvent(event supervisor.Event) {
	var (
		msg *protocol.Message
		err error
	)
	switch event.Type {
	case supervisor.EventStarted:
		msg, err = protocol.NewMessage(protocol.TypeProcessStarted, protocol.ProcessStartedPayload{
			ProcessID:   event.ProcessID,
			CommandLine: event.Data,
		})
	case supervisor.EventOutput:
		msg, err = protocol.NewMessage(protocol.TypeProcessOutput, protocol.ProcessOutputPayload{
			ProcessID: event.ProcessID,
			Data:      event.Data,
		})
	case supervisor.EventExit:
		msg, err = protocol.NewMessage(protocol.TypeProcessExit, protocol.ProcessExitPayload{
			ProcessID: event.ProcessID,
			ExitCode:  event.ExitCode,
			Message:   event.Data,
		})
	default:
		return
	}
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	c.close()
	s.procs.Unsubscribe(c.subID)
}

func (s *Server) closeClients() {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

// handleMessage answers a validated snapshot request.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeProcessRequestInfo:
		info, ok := s.procs.Active()
		if !ok {
			s.sendError(c, protocol.ErrNoActiveProcess, "no active process")
			return
		}
		resp, err := protocol.NewMessage(protocol.TypeProcessUpdate, processUpdate(info))
		if err == nil {
			c.enqueue(resp)
		}

	case protocol.TypeHostRequestStatus:
		st := s.status.Collect(context.Background())
		resp, err := protocol.NewMessage(protocol.TypeHostStatus, protocol.HostStatusPayload{
			Hostname: st.Hostname,
			Text:     st.Format(),
		})
		if err == nil {
			c.enqueue(resp)
		}
	}
}

func processUpdate(info supervisor.Info) protocol.ProcessUpdatePayload {
	return protocol.ProcessUpdatePayload{
		ID:          info.ID,
		CommandLine: info.CommandLine,
		State:       string(info.State),
		PID:         info.PID,
		StartedAt:   info.StartedAt.Format(time.RFC3339Nano),
	}
}

func (s *Server) sendError(c *client, code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		return
	}
	c.enqueue(msg)
}
