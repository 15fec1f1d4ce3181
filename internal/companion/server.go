// Package companion accepts companion app connections and binds each one to
// the pending call named by its pairing token.
package companion

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/iris/internal/call"
)

const (
	defaultWriteTimeout = 10 * time.Second
	// Audio arrives as one binary frame per utterance.
	defaultReadLimit = 16 << 20
)

// Redeemer resolves pairing tokens. *pairing.Registry implements it.
type Redeemer interface {
	Lookup(token string) bool
	Redeem(token string, conn call.Conn) (*call.Call, error)
}

type Options struct {
	Logger         *zap.Logger
	AllowAnyOrigin bool
	WriteTimeout   time.Duration
	ReadLimit      int64
}

type Server struct {
	registry     Redeemer
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	readLimit    int64
}

func NewServer(registry Redeemer, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	allowAny := opts.AllowAnyOrigin
	return &Server{
		registry:     registry,
		logger:       logger.Named("companion"),
		writeTimeout: opts.WriteTimeout,
		readLimit:    opts.ReadLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     func(*http.Request) bool { return allowAny },
		},
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/*", s.handleUpgrade)
	return r
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if !s.registry.Lookup(token) {
		http.Error(w, "unknown token", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("companion upgrade failed", zap.Error(err))
		return
	}
	conn := newWSConn(ws, s.writeTimeout, s.readLimit)
	s.logger.Info("companion connected", zap.String("remote", r.RemoteAddr))

	if _, err := s.registry.Redeem(token, conn); err != nil {
		// The token was consumed or expired between lookup and upgrade.
		reason := "Token is no longer valid"
		if errors.Is(err, call.ErrNotPending) {
			reason = "Call is no longer available"
		}
		s.logger.Warn("companion pairing failed", zap.Error(err))
		_ = conn.closeWith(websocket.ClosePolicyViolation, reason)
	}
}
