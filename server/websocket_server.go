package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/ReminderRelay/config"
	"github.com/room4-2/ReminderRelay/session"
)

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	log            logrus.FieldLogger
}

type healthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Sessions int    `json:"sessions"`
}

func NewServer(cfg *config.Config, sessionManager *session.Manager, log logrus.FieldLogger) *Server {
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		log:            log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024, // 64KB for audio chunks
			WriteBufferSize: 64 * 1024, // 64KB for audio chunks
			CheckOrigin: func(r *http.Request) bool {
				// Check allowed origins
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws/voice", s.handleVoice)
	mux.HandleFunc("/health", s.handleHealth)

	// No read or write timeouts: voice sessions are long lived
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.log.WithFields(logrus.Fields{
		"port":     s.config.Port,
		"provider": s.config.Provider,
	}).Info("Reminder relay starting")
	s.log.Infof("WebSocket endpoint: ws://localhost:%d/ws/voice", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

// handleIndex serves the browser page, read from disk on every request so
// edits show up without a restart.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	page, err := os.ReadFile(s.config.IndexPath)
	if err != nil {
		s.log.WithError(err).WithField("path", s.config.IndexPath).Error("Failed to read index page")
		http.Error(w, "index page unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	reminder := r.URL.Query().Get("reminder")

	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	ctx := r.Context()
	clientSession, err := s.sessionManager.CreateSession(ctx, conn, reminder)
	if err != nil {
		s.log.WithError(err).Error("Failed to create session")
		conn.Close()
		return
	}

	log := s.log.WithField("session", clientSession.ID)
	log.WithField("reminder_chars", len(reminder)).Info("Client connected")

	// The request context ends with this handler; cleanup must outlive it
	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		_ = s.sessionManager.RemoveSession(cleanupCtx, clientSession.ID)
		log.Info("Session closed")
	}()

	if err := clientSession.Start(ctx); err != nil {
		log.WithError(err).Error("Failed to initialize upstream session")
		return
	}

	// Wait for session to close
	<-clientSession.CloseChan
	clientSession.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body, err := sonic.Marshal(healthResponse{
		Status:   "ok",
		Provider: s.config.Provider,
		Sessions: s.sessionManager.GetActiveSessionCount(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
