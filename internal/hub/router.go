// Package hub serves the single authoritative home-automation hub
// connection: it validates and dispatches inbound commands and carries
// outbound notification, call-service and call state messages.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/iris/internal/observability"
)

const (
	closeReasonReplaced = "Another client has connected"
	closeReasonError    = "A ws error occurred. Please reconnect"

	replyParseError   = "Unable to parse message. Message malformed or not JSON"
	replyHandlerError = "Error while handling command"

	defaultWriteTimeout = 10 * time.Second
	maxMessageBytes     = 1 << 20
)

var (
	ErrNoActiveConnection = errors.New("cannot send command: no active hub connection")
	ErrNoHandler          = errors.New("no handler registered")
)

// HandlerFunc handles one validated command. A returned error is reported to
// the hub without closing the connection.
type HandlerFunc func(ctx context.Context, cmd Command) error

type Options struct {
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	AllowAnyOrigin bool
	WriteTimeout   time.Duration
	// IntentURI and IntentPackage address the companion app in
	// command_activity call-service messages.
	IntentURI     string
	IntentPackage string
}

type Router struct {
	logger        *zap.Logger
	metrics       *observability.Metrics
	upgrader      websocket.Upgrader
	writeTimeout  time.Duration
	intentURI     string
	intentPackage string

	// switchMu orders eviction against outbound sends: Send holds it shared,
	// activate exclusively while the old connection is closed.
	switchMu sync.RWMutex

	mu       sync.Mutex
	active   *hubConn
	handlers map[Kind]HandlerFunc
	closed   bool
}

func NewRouter(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.IntentURI == "" {
		opts.IntentURI = "iris://trigger-call"
	}
	if opts.IntentPackage == "" {
		opts.IntentPackage = "com.iris.companion"
	}
	allowAny := opts.AllowAnyOrigin
	return &Router{
		logger:        logger.Named("hub"),
		metrics:       opts.Metrics,
		writeTimeout:  opts.WriteTimeout,
		intentURI:     opts.IntentURI,
		intentPackage: opts.IntentPackage,
		handlers:      make(map[Kind]HandlerFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAny {
					return true
				}
				return sameOrigin(r)
			},
		},
	}
}

// Handle registers h for kind; the last registration wins.
func (r *Router) Handle(kind Kind, h HandlerFunc) {
	if kind == kindUnNotify {
		kind = KindClearNotification
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, kind)
		return
	}
	r.handlers[kind] = h
}

// Routes mounts the upgrade endpoint on every path.
func (r *Router) Routes() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/*", r.ServeHTTP)
	return mux
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("hub upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(maxMessageBytes)
	conn := &hubConn{ws: ws, writeTimeout: r.writeTimeout}

	if !r.activate(conn) {
		conn.closeWith(websocket.CloseGoingAway, "shutting down")
		return
	}
	r.logger.Info("hub connected", zap.String("remote", req.RemoteAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.serve(ctx, conn)
}

// Connected reports whether a hub connection is active.
func (r *Router) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Close disconnects the active hub and refuses new connections.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	conn := r.active
	r.active = nil
	r.mu.Unlock()

	if conn != nil {
		conn.closeWith(websocket.CloseGoingAway, "shutting down")
		r.metrics.SetHubConnected(false)
	}
}

// Send writes {"command":kind,"payload":payload} to the active connection.
// Nothing is queued when no hub is connected.
func (r *Router) Send(kind string, payload any) error {
	r.switchMu.RLock()
	defer r.switchMu.RUnlock()

	r.mu.Lock()
	conn := r.active
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrNoActiveConnection, kind)
	}
	raw, err := json.Marshal(outbound{Command: kind, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if err := conn.write(raw); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// activate closes the previous connection before conn becomes visible to
// Send, so no outbound frame reaches conn while the old one is open.
func (r *Router) activate(conn *hubConn) bool {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	old := r.active
	r.active = nil
	r.mu.Unlock()

	if old != nil {
		r.logger.Info("replacing hub connection")
		old.closeWith(websocket.ClosePolicyViolation, closeReasonReplaced)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.active = conn
	r.mu.Unlock()
	r.metrics.SetHubConnected(true)
	return true
}

func (r *Router) isActive(conn *hubConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active == conn
}

// release empties the slot if conn still holds it. logFn runs before the
// slot is observably empty.
func (r *Router) release(conn *hubConn, logFn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != conn {
		return false
	}
	logFn()
	r.active = nil
	r.metrics.SetHubConnected(false)
	return true
}

func (r *Router) serve(ctx context.Context, conn *hubConn) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			r.readFailed(conn, err)
			return
		}
		if !r.isActive(conn) {
			continue
		}
		r.handleMessage(ctx, conn, data)
	}
}

func (r *Router) readFailed(conn *hubConn, err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		r.release(conn, func() { r.logger.Info("hub disconnected") })
		_ = conn.ws.Close()
		return
	}
	released := r.release(conn, func() {
		r.logger.Error("hub websocket error, closing connection", zap.Error(err))
	})
	if !released {
		_ = conn.ws.Close()
		return
	}
	conn.closeWith(websocket.CloseInternalServerErr, closeReasonError)
}

func (r *Router) handleMessage(ctx context.Context, conn *hubConn, data []byte) {
	cmd, err := parseCommand(data)
	if err != nil {
		r.logger.Warn(replyParseError, zap.Error(err))
		r.metrics.ObserveHubCommand("invalid", "error")
		r.reply(conn, reply{Event: "error", ErrorMessage: replyParseError})
		return
	}

	if err := r.dispatch(ctx, cmd); err != nil {
		r.logger.Error(replyHandlerError,
			zap.String("command", string(cmd.Kind)),
			zap.String("target", cmd.Target),
			zap.Error(err),
		)
		r.metrics.ObserveHubCommand(string(cmd.Kind), "error")
		r.reply(conn, reply{Event: "error", ErrorMessage: replyHandlerError})
		return
	}
	r.metrics.ObserveHubCommand(string(cmd.Kind), "success")
	r.reply(conn, reply{Event: "success"})
}

func (r *Router) dispatch(ctx context.Context, cmd Command) (err error) {
	r.mu.Lock()
	h := r.handlers[cmd.Kind]
	r.mu.Unlock()
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, cmd.Kind)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, cmd)
}

func (r *Router) reply(conn *hubConn, msg reply) {
	raw, _ := json.Marshal(msg)
	if err := conn.write(raw); err != nil {
		r.logger.Warn("hub reply failed", zap.Error(err))
	}
}

type outbound struct {
	Command string `json:"command"`
	Payload any    `json:"payload"`
}

type reply struct {
	Event        string `json:"event"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type hubConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *hubConn) write(raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *hubConn) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.ws.Close()
}

func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
