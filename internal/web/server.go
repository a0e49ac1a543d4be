// Package web exposes the account manager over HTTP/JSON and streams its
// events over SSE and websocket.
package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/asheshgoplani/linkdeck/internal/account"
	"github.com/asheshgoplani/linkdeck/internal/errlog"
	"github.com/asheshgoplani/linkdeck/internal/logging"
)

var webLog = logging.ForComponent(logging.CompWeb)

// AccountService is the slice of the account manager the transport drives.
type AccountService interface {
	CreateAccount(ctx context.Context, id, displayName string) (account.CreateResult, error)
	ListAccounts() []account.AccountSummary
	RemoveAccount(ctx context.Context, id string) error
	BeginHandshake(ctx context.Context, id string) (account.HandshakeResult, error)
	SwitchActive(ctx context.Context, id string) (account.AccountView, error)
	SendMessage(ctx context.Context, id, destination, text string) (account.MessageRecord, error)
	Messages(id, conversationID string) ([]account.MessageRecord, error)
	SelectConversation(id, conversationID string) error
	ListConversations(ctx context.Context, id string) ([]account.ConversationSummary, error)
	SearchConversations(ctx context.Context, id, query string) ([]account.ConversationSummary, error)
	StateHistory(id string) ([]account.StateTransition, error)
	StatusSummary() account.StatusSummary
	RecentErrors() []errlog.Entry
}

var _ AccountService = (*account.Manager)(nil)

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	Token      string
	Accounts   AccountService
	Hub        *Hub
	// Push is optional; push routes answer 503 without it.
	Push *PushNotifier
}

// Server wraps an HTTP server for the linkdeck daemon.
type Server struct {
	cfg        Config
	accounts   AccountService
	hub        *Hub
	push       *PushNotifier
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
	started    time.Time
}

// NewServer creates a server with every route and middleware installed.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8430"
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}

	s := &Server{
		cfg:      cfg,
		accounts: cfg.Accounts,
		hub:      cfg.Hub,
		push:     cfg.Push,
		started:  time.Now(),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	api.HandleFunc("GET /api/accounts", s.handleListAccounts)
	api.HandleFunc("DELETE /api/accounts/{id}", s.handleRemoveAccount)
	api.HandleFunc("POST /api/accounts/{id}/handshake", s.handleHandshake)
	api.HandleFunc("POST /api/accounts/{id}/activate", s.handleActivate)
	api.HandleFunc("GET /api/accounts/{id}/history", s.handleHistory)
	api.HandleFunc("POST /api/accounts/{id}/messages", s.handleSendMessage)
	api.HandleFunc("GET /api/accounts/{id}/messages", s.handleListMessages)
	api.HandleFunc("GET /api/accounts/{id}/conversations", s.handleConversations)
	api.HandleFunc("POST /api/accounts/{id}/conversations/{conv}/select", s.handleSelectConversation)
	api.HandleFunc("GET /api/status", s.handleStatus)
	api.HandleFunc("GET /api/errors", s.handleErrors)
	api.HandleFunc("GET /api/logs", s.handleLogs)
	api.HandleFunc("GET /api/push/config", s.handlePushConfig)
	api.HandleFunc("POST /api/push/subscribe", s.handlePushSubscribe)
	api.HandleFunc("POST /api/push/unsubscribe", s.handlePushUnsubscribe)
	api.HandleFunc("GET /events", s.handleEvents)
	api.HandleFunc("GET /ws/events", s.handleEventsWS)

	mux.Handle("/api/", s.requireAuth(api))
	mux.Handle("/events", s.requireAuth(api))
	mux.Handle("/ws/", s.requireAuth(api))

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ErrorLog:          log.New(logging.NewBridgeWriter(logging.CompWeb), "", 0),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Hub returns the event fan-out the server streams from.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves until shutdown. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("web_listening", slog.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	err := s.httpServer.Serve(l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	// Ends long-lived SSE/WS handlers.
	s.cancelBase()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Long-lived connections may still block graceful shutdown.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	sum := s.accounts.StatusSummary()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"accounts": sum.Total,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, auth=%t)", s.cfg.ListenAddr, s.cfg.Token != "")
}
