package relay

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/andy6609/broadcast-relay/internal/config"
)

type Server struct {
	cfg         config.Config
	logger      *slog.Logger
	reg         *Registry
	broadcaster *Broadcaster
	handler     *Handler

	mu        sync.Mutex
	listeners []Listener
	live      map[*Connection]struct{}
	stopping  bool
	wg        sync.WaitGroup
	errCh     chan error
}

func NewServer(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Sanitize()

	reg := NewRegistry()
	b := NewBroadcaster(reg, logger)
	return &Server{
		cfg:         cfg,
		logger:      logger,
		reg:         reg,
		broadcaster: b,
		handler: NewHandler(reg, b, logger, HandlerOptions{
			Greeting:     cfg.Greeting,
			ReadBuffer:   cfg.ReadBuffer,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}),
		live:  make(map[*Connection]struct{}),
		errCh: make(chan error, 1),
	}
}

func (s *Server) Registry() *Registry       { return s.reg }
func (s *Server) Broadcaster() *Broadcaster { return s.broadcaster }

// Errors delivers the first fatal accept error. The server is unusable
// after one arrives.
func (s *Server) Errors() <-chan error { return s.errCh }

// Start binds the configured TCP address and begins accepting.
func (s *Server) Start() error {
	ln, err := ListenTCP(s.cfg.Addr())
	if err != nil {
		return err
	}
	s.Serve(ln)
	s.logger.Info("server listening", "addr", ln.Addr().String())
	return nil
}

// Serve accepts from ln in a new goroutine. Every listener feeds the same
// registry.
func (s *Server) Serve(ln Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
}

// Addr is the address of the first listener, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

// Stop closes every listener and open connection and waits for their
// goroutines. In-flight broadcasts are not drained.
func (s *Server) Stop() {
	s.logger.Info("shutting down")

	s.mu.Lock()
	s.stopping = true
	listeners := s.listeners
	live := make([]*Connection, 0, len(s.live))
	for c := range s.live {
		live = append(live, c)
	}
	s.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, c := range live {
		_ = c.Close()
	}
	s.wg.Wait()

	s.logger.Info("shutdown complete")
}

func (s *Server) acceptLoop(ln Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isStopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "addr", ln.Addr().String(), "error", err)
			select {
			case s.errCh <- err:
			default:
			}
			return
		}

		c := newConnection(conn, s.cfg.SendQueue)
		if !s.track(c) {
			_ = c.Close()
			return
		}
		s.logger.Info("new connection", "addr", c.Addr(), "id", c.ID)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(c)
			_ = s.handler.Serve(c)
		}()
	}
}

// track records c so Stop can close it; false once stopping.
func (s *Server) track(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.live[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Connection) {
	s.mu.Lock()
	delete(s.live, c)
	s.mu.Unlock()
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}
