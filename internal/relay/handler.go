package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"
)

// Handler services connections: register, greet, relay chunks, tear down.
type Handler struct {
	reg          *Registry
	broadcaster  *Broadcaster
	logger       *slog.Logger
	greeting     []byte
	bufSize      int
	readTimeout  time.Duration
	writeTimeout time.Duration
}

type HandlerOptions struct {
	Greeting     string
	ReadBuffer   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func NewHandler(reg *Registry, b *Broadcaster, logger *slog.Logger, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = 1024
	}
	return &Handler{
		reg:          reg,
		broadcaster:  b,
		logger:       logger,
		greeting:     []byte(opts.Greeting),
		bufSize:      opts.ReadBuffer,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
	}
}

// Serve runs c until the peer goes away and returns why. The transport is
// closed and c is out of the registry when Serve returns, except when c was
// already registered: that entry belongs to another Serve call.
func (h *Handler) Serve(c *Connection) error {
	if err := h.open(c); err != nil {
		if errors.Is(err, ErrDuplicateConnection) {
			h.logger.Error("connection already registered", "addr", c.Addr(), "id", c.ID)
			Disconnects.WithLabelValues(string(ReasonDuplicate)).Inc()
			return err
		}
		h.disconnect(c, err)
		h.release(c)
		return err
	}
	defer h.release(c)

	h.logger.Info("client connected", "addr", c.Addr(), "id", c.ID, "active", h.reg.Len())

	c.setState(StateReading)
	err := h.readLoop(c)
	h.disconnect(c, err)
	return err
}

// open registers c, starts its writer and queues the greeting while holding
// c's queue lock, so no broadcast can be queued ahead of the greeting.
func (h *Handler) open(c *Connection) error {
	c.qmu.Lock()
	defer c.qmu.Unlock()

	if err := h.reg.Add(c); err != nil {
		return err
	}
	c.startWriter(h.writeTimeout)
	if len(h.greeting) == 0 {
		return nil
	}
	if err := c.sendLocked(h.greeting); err != nil {
		return fmt.Errorf("%w: greeting: %v", ErrTransport, err)
	}
	return nil
}

func (h *Handler) readLoop(c *Connection) error {
	buf := make([]byte, h.bufSize)
	for {
		if h.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !utf8.Valid(chunk) {
				return fmt.Errorf("%w: %d bytes from %s", ErrDecode, n, c.Addr())
			}
			ChunksReceived.Inc()
			h.logger.Debug("chunk received", "addr", c.Addr(), "id", c.ID, "text", string(chunk))
			h.broadcaster.Broadcast(c, chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrPeerClosed
			}
			if werr := c.writeFailure(); werr != nil {
				return fmt.Errorf("%w: write: %v", ErrTransport, werr)
			}
			return fmt.Errorf("%w: read: %v", ErrTransport, err)
		}
		if n == 0 {
			// A zero-byte read without error is treated as EOF.
			return ErrPeerClosed
		}
	}
}

func (h *Handler) disconnect(c *Connection, cause error) {
	c.setState(StateDisconnecting)
	h.reg.Remove(c)

	reason := ReasonOf(cause)
	Disconnects.WithLabelValues(string(reason)).Inc()

	if reason == ReasonPeerClosed {
		h.logger.Info("client disconnected", "addr", c.Addr(), "id", c.ID, "reason", reason)
		return
	}
	h.logger.Warn("client disconnected unexpectedly", "addr", c.Addr(), "id", c.ID, "reason", reason, "error", cause)
}

func (h *Handler) release(c *Connection) {
	if err := c.Close(); err != nil {
		h.logger.Debug("close failed", "addr", c.Addr(), "id", c.ID, "error", err)
	}
	c.setState(StateClosed)
}
