// Package websocket is the client transport for the streaming core. It
// upgrades HTTP requests, owns each socket's read and write loops, and
// bridges frames onto the streamer's work queue.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hypothesis/h-sub005/errors"
	"github.com/hypothesis/h-sub005/metric"
	"github.com/hypothesis/h-sub005/streamer"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second

	// Outbound frames buffered per client before the client is
	// considered too slow and disconnected.
	outboundBuffer = 64
)

// IdentityResolver authenticates one upgrade request. A nil resolver
// treats every client as anonymous.
type IdentityResolver func(r *http.Request) streamer.Identity

// Config configures the transport server.
type Config struct {
	Addr           string
	Path           string
	AllowedOrigins []string
	Streamer       *streamer.Streamer
	Identity       IdentityResolver
	Logger         *slog.Logger
	Metrics        *metric.MetricsRegistry
}

// Server accepts websocket clients and registers one streamer.Connection
// per session for the lifetime of the socket.
type Server struct {
	addr     string
	path     string
	streamer *streamer.Streamer
	identity IdentityResolver
	logger   *slog.Logger
	upgrader websocket.Upgrader
	metrics  *serverMetrics
}

// NewServer creates the transport server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Streamer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"websocket", "NewServer", "validate streamer")
	}
	if cfg.Addr == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"websocket", "NewServer", "validate listen address")
	}
	path := cfg.Path
	if path == "" {
		path = "/ws"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:     cfg.Addr,
		path:     path,
		streamer: cfg.Streamer,
		identity: cfg.Identity,
		logger:   logger.With("component", "websocket"),
		metrics:  newServerMetrics(cfg.Metrics),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s, nil
}

// originChecker builds the upgrade origin policy. An empty allow-list
// falls back to gorilla's same-origin default; "*" allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Handler returns the upgrade handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	return mux
}

// Run serves until ctx is cancelled, then drains with a short grace
// period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("websocket server listening", "addr", s.addr, "path", s.path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return errors.WrapFatal(err, "websocket", "Run", "serve")
	}
}

// session owns one upgraded socket.
type session struct {
	ws       *websocket.Conn
	conn     *streamer.Connection
	outbound chan []byte
	closing  chan string
	logger   *slog.Logger
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.upgradeFailure()
		return
	}

	var identity streamer.Identity
	if s.identity != nil {
		identity = s.identity(r)
	}

	sess := &session{
		ws:       ws,
		outbound: make(chan []byte, outboundBuffer),
		closing:  make(chan string, 1),
	}
	sess.conn = streamer.NewConnection(streamer.ConnectionConfig{
		Identity: identity,
		Send:     sess.enqueue,
		Close:    sess.requestClose,
		Logger:   s.logger,
	})
	sess.logger = s.logger.With("connection_id", sess.conn.ID())

	registry := s.streamer.Registry()
	registry.Add(sess.conn)
	s.metrics.connected()
	defer func() {
		sess.conn.Terminate()
		registry.Remove(sess.conn)
		s.metrics.disconnected()
		_ = ws.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go sess.writeLoop(ctx, cancel)

	sess.readLoop(s.streamer)
}

// enqueue hands one frame to the write loop. A full buffer means the
// client is not draining; failing here terminates the connection rather
// than blocking the dispatcher.
func (sess *session) enqueue(data []byte) error {
	select {
	case sess.outbound <- data:
		return nil
	default:
		return errors.ErrConnectionClosed
	}
}

// requestClose asks the write loop to send a close frame with reason.
func (sess *session) requestClose(reason string) {
	select {
	case sess.closing <- reason:
	default:
	}
}

// readLoop pulls client frames and enqueues them for the dispatcher.
// Returns when the socket dies or the client goes silent past the read
// deadline; pongs extend the deadline.
func (sess *session) readLoop(str *streamer.Streamer) {
	sess.ws.SetPongHandler(func(string) error {
		return sess.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	_ = sess.ws.SetReadDeadline(time.Now().Add(readTimeout))

	for {
		_, data, err := sess.ws.ReadMessage()
		if err != nil {
			return
		}
		// Overflow is logged and dropped inside the streamer; the read
		// loop keeps the socket alive either way.
		_ = str.EnqueueClientMessage(sess.conn, data)
	}
}

// writeLoop is the socket's only writer: data frames, pings and close
// frames all funnel through it.
func (sess *session) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-sess.closing:
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
			_ = sess.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = sess.ws.WriteMessage(websocket.CloseMessage, msg)
			_ = sess.ws.Close()
			return
		case data := <-sess.outbound:
			_ = sess.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sess.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				sess.logger.Debug("client write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = sess.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sess.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serverMetrics follows the nil receiver no-op pattern.
type serverMetrics struct {
	connectionsTotal prometheus.Counter
	upgradeFailures  prometheus.Counter
	clientsConnected prometheus.Gauge
}

func newServerMetrics(registry *metric.MetricsRegistry) *serverMetrics {
	if registry == nil {
		return nil
	}
	m := &serverMetrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Total accepted websocket connections",
		}),
		upgradeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "websocket",
			Name:      "upgrade_failures_total",
			Help:      "Failed HTTP upgrade attempts",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamd",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Currently open websocket sessions",
		}),
	}
	registry.PrometheusRegistry().MustRegister(
		m.connectionsTotal,
		m.upgradeFailures,
		m.clientsConnected,
	)
	return m
}

func (m *serverMetrics) connected() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.clientsConnected.Inc()
}

func (m *serverMetrics) disconnected() {
	if m == nil {
		return
	}
	m.clientsConnected.Dec()
}

func (m *serverMetrics) upgradeFailure() {
	if m == nil {
		return
	}
	m.upgradeFailures.Inc()
}
