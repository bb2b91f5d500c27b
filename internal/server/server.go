package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ksawyer/wirehub/internal/bridge"
	"github.com/ksawyer/wirehub/internal/broadcast"
	"github.com/ksawyer/wirehub/internal/bus"
	"github.com/ksawyer/wirehub/internal/config"
	"github.com/ksawyer/wirehub/internal/envelope"
	"github.com/ksawyer/wirehub/internal/heartbeat"
	"github.com/ksawyer/wirehub/internal/registry"
	"github.com/ksawyer/wirehub/internal/router"
	"github.com/ksawyer/wirehub/internal/store"
)

// Server owns the transport listener and wires the messaging core
// together: registry, handler table, broadcaster, heartbeat monitor and
// event bridge. Every collaborator is an explicit instance, so tests can
// run isolated servers side by side.
type Server struct {
	cfg    config.Config
	logger *slog.Logger

	reg     *registry.Registry
	table   *router.Table
	bcast   *broadcast.Broadcaster
	monitor *heartbeat.Monitor
	bus     *bus.Bus
	bridge  *bridge.Bridge
	store   store.Store

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener
}

// New assembles a server around the given store. The caller owns the
// store's lifetime.
func New(cfg config.Config, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New(logger)
	table := router.NewTable(logger)
	bcast := broadcast.New(reg, logger)
	eventBus := bus.New(logger)
	br := bridge.New(eventBus, bcast, logger)
	monitor := heartbeat.NewMonitor(reg, cfg.Heartbeat.Interval, logger)

	// Evictions anywhere surface as disconnect events on the bus.
	monitor.OnEvict(br.NotifyDisconnected)
	bcast.OnEvict(br.NotifyDisconnected)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		reg:     reg,
		table:   table,
		bcast:   bcast,
		monitor: monitor,
		bus:     eventBus,
		bridge:  br,
		store:   st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	s.registerControlHandlers()
	s.registerChatHandlers()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	s.httpSrv = &http.Server{Handler: mux}

	return s
}

// Table exposes the handler table for application registrations.
func (s *Server) Table() *router.Table { return s.table }

// Bus exposes the domain event bus.
func (s *Server) Bus() *bus.Bus { return s.bus }

// Broadcaster exposes the fan-out component.
func (s *Server) Broadcaster() *broadcast.Broadcaster { return s.bcast }

// Registry exposes the connection registry.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Start binds the listener, attaches the bridge, and launches the accept
// loop and heartbeat sweep. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln

	s.bridge.Start()
	s.monitor.Start(ctx)

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.logger.Info("server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address (useful with port 0).
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop halts the heartbeat sweep, detaches the bridge, closes every
// connection and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")

	s.monitor.Stop()
	s.bridge.Stop()

	s.reg.ForEach(func(c *registry.Conn) {
		s.reg.Remove(c.ID())
		if err := c.Close(); err != nil {
			s.logger.Debug("close on shutdown", "conn_id", c.ID(), "error", err)
		}
	})

	return s.httpSrv.Shutdown(ctx)
}

// handleWS upgrades one HTTP request into a registered connection and
// runs its read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	wsConn.SetReadLimit(s.cfg.Server.ReadLimit)

	tr := newWSTransport(wsConn, s.cfg.Server.WriteTimeout)
	conn := registry.NewConn(tr, map[string]string{
		"remote_addr":  r.RemoteAddr,
		"user_agent":   r.UserAgent(),
		"connected_at": envelope.Now(),
	})

	if err := s.reg.Add(conn); err != nil {
		s.logger.Error("registration failed", "conn_id", conn.ID(), "error", err)
		tr.Close()
		return
	}

	s.logger.Info("connection accepted", "conn_id", conn.ID(), "remote", r.RemoteAddr)

	greeting, err := envelope.New(envelope.TypeConnection, envelope.ConnectionData{ID: conn.ID()})
	if err == nil {
		err = conn.Send(greeting)
	}
	if err != nil {
		s.logger.Warn("greeting failed", "conn_id", conn.ID(), "error", err)
		s.evict(conn)
		return
	}

	s.bridge.NotifyConnected(conn.ID(), nil)
	s.readLoop(r.Context(), conn, wsConn)
}

// readLoop decodes and dispatches inbound messages until the transport
// drops. A decode failure yields exactly one error envelope and the
// connection stays open; a transport failure evicts with no reply.
func (s *Server) readLoop(ctx context.Context, conn *registry.Conn, wsConn *websocket.Conn) {
	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			s.logger.Info("connection closed", "conn_id", conn.ID(), "error", err)
			s.evict(conn)
			return
		}

		env, err := envelope.Decode(data)
		if err != nil {
			s.logger.Warn("malformed message", "conn_id", conn.ID(), "error", err)
			if sendErr := conn.Send(envelope.NewError(err.Error(), "decode_error")); sendErr != nil {
				s.evict(conn)
				return
			}
			continue
		}

		s.table.Dispatch(ctx, conn, env)
	}
}

// evict removes a connection and emits the disconnect event, unless the
// heartbeat monitor or a broadcast failure already did.
func (s *Server) evict(conn *registry.Conn) {
	if _, ok := s.reg.Find(conn.ID()); !ok {
		return
	}
	s.reg.Remove(conn.ID())
	if err := conn.Close(); err != nil {
		s.logger.Debug("close on evict", "conn_id", conn.ID(), "error", err)
	}
	s.bridge.NotifyDisconnected(conn.ID())
}

// wsTransport adapts a gorilla connection to the registry transport,
// serializing writes.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *wsTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return net.ErrClosed
	}
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}
