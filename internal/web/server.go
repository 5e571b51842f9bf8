// Package web provides an HTTP status server for the button-handler daemon:
// an HTML page, a JSON endpoint and a websocket stream of live events.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sweeney/button-handler/internal/logic"
	"github.com/sweeney/button-handler/internal/status"
)

var upgrader = websocket.Upgrader{
	// The status page is served from the same host; LAN tools may connect
	// from elsewhere.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	hub        *Hub
	logger     *zap.SugaredLogger
}

// New creates a Server that reads state from the given tracker. If hub is
// nil the /events websocket is not served.
func New(addr string, tracker *status.Tracker, hub *Hub, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{tracker: tracker, hub: hub, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	if hub != nil {
		mux.HandleFunc("/events", s.handleEvents)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the HTTP handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// BroadcastEvent sends an event to every websocket client.
func (s *Server) BroadcastEvent(e logic.Event) {
	if s.hub == nil {
		return
	}
	msg, err := FormatEventMessage(e)
	if err != nil {
		s.logger.Warnw("failed to format event message", "event", e.String(), "error", err)
		return
	}
	s.hub.Broadcast(msg)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap, s.hub != nil); err != nil {
		s.logger.Warnw("render index failed", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleEvents upgrades to a websocket, sends the current status, then
// streams events until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(s.hub, conn, r.RemoteAddr)

	// The status frame is queued before registering so it is always first.
	init, err := formatStatusMessage(s.tracker.Snapshot())
	if err != nil {
		s.logger.Warnw("failed to format status message", "error", err)
		conn.Close()
		return
	}
	client.send <- init
	s.hub.add(client)

	// Pumps are not tied to the request context, which ends when this
	// handler returns.
	go client.writePump()
	go client.readPump()
}
