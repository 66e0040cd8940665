// Package wsgate lets WebSocket peers join the relay. Gate is an
// http.Handler that upgrades requests and hands the resulting connections to
// the relay server through the relay.Listener interface.
package wsgate

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andy6609/broadcast-relay/internal/relay"
)

const closeGrace = time.Second

type Options struct {
	// AllowedOrigins restricts the Origin header; empty allows any.
	AllowedOrigins []string
	ReadBuffer     int
	WriteBuffer    int
}

type Gate struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	addr     net.Addr

	conns     chan relay.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func New(addr net.Addr, logger *slog.Logger, opts Options) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == nil {
		addr = gateAddr("websocket")
	}
	g := &Gate{
		logger: logger,
		addr:   addr,
		conns:  make(chan relay.Conn),
		done:   make(chan struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  opts.ReadBuffer,
		WriteBufferSize: opts.WriteBuffer,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return g
}

func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	select {
	case g.conns <- &conn{ws: ws}:
	case <-g.done:
		_ = ws.Close()
	}
}

// Accept blocks until a peer has upgraded or the gate is closed.
func (g *Gate) Accept() (relay.Conn, error) {
	select {
	case c := <-g.conns:
		return c, nil
	case <-g.done:
		return nil, net.ErrClosed
	}
}

func (g *Gate) Close() error {
	g.closeOnce.Do(func() { close(g.done) })
	return nil
}

func (g *Gate) Addr() net.Addr { return g.addr }

type gateAddr string

func (a gateAddr) Network() string { return "websocket" }
func (a gateAddr) String() string  { return string(a) }

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// conn exposes a WebSocket as a byte stream. Each inbound message is read
// through as stream bytes; each Write is one text message.
type conn struct {
	ws *websocket.Conn
	r  io.Reader
}

func (c *conn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				if isPeerClose(err) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *conn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return c.ws.Close()
}

func (c *conn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

func isPeerClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
