package relay

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/andy6609/broadcast-relay/internal/config"
)

// Conn is the transport a Connection wraps. net.Conn satisfies it, and so
// does the WebSocket adapter in wsgate.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Connection is one accepted peer. Its identity is the pointer; ID is only
// for logs. Outbound bytes go through a bounded queue drained by a single
// writer goroutine, so a peer that stops reading only loses its own messages.
type Connection struct {
	ID   string
	conn Conn
	addr string

	qmu    sync.Mutex
	out    chan []byte
	closed atomic.Bool
	state  atomic.Int32

	writerOnce sync.Once
	failMu     sync.Mutex
	failure    error
}

// NewConnection wraps conn with a send queue of config.DefaultSendQueue.
func NewConnection(conn Conn) *Connection {
	return newConnection(conn, config.DefaultSendQueue)
}

func newConnection(conn Conn, queue int) *Connection {
	if queue <= 0 {
		queue = config.DefaultSendQueue
	}
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Connection{
		ID:   uuid.NewString(),
		conn: conn,
		addr: addr,
		out:  make(chan []byte, queue),
	}
}

// Addr is the peer's address in host:port form.
func (c *Connection) Addr() string { return c.addr }

func (c *Connection) IsClosed() bool { return c.closed.Load() }

// State reports where the connection's handler is in its lifecycle.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// Send queues p for the writer without blocking. It returns ErrQueueFull
// when the peer is not keeping up and net.ErrClosed after Close.
func (c *Connection) Send(p []byte) error {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return c.sendLocked(p)
}

func (c *Connection) sendLocked(p []byte) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	select {
	case c.out <- p:
		return nil
	default:
		return ErrQueueFull
	}
}

// startWriter launches the writer goroutine once. writeTimeout bounds each
// transport write; zero disables it.
func (c *Connection) startWriter(writeTimeout time.Duration) {
	c.writerOnce.Do(func() {
		go c.writeLoop(writeTimeout)
	})
}

// writeLoop drains the queue until Close. A failed write closes the
// connection, which ends the handler's read loop.
func (c *Connection) writeLoop(writeTimeout time.Duration) {
	for p := range c.out {
		if writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		}
		if _, err := c.conn.Write(p); err != nil {
			c.fail(err)
			_ = c.Close()
			return
		}
	}
}

func (c *Connection) fail(err error) {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	if c.failure == nil && !c.closed.Load() {
		c.failure = err
	}
}

// writeFailure is the error that stopped the writer, if any.
func (c *Connection) writeFailure() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failure
}

// Close stops the writer and releases the transport. Queued bytes that the
// writer has not reached yet are still attempted. Safe to call more than once.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.qmu.Lock()
	close(c.out)
	c.qmu.Unlock()
	return c.conn.Close()
}

// Message is one chunk on its way to peers. Origin is nil when the chunk
// came from another relay node.
type Message struct {
	Origin  *Connection
	Sender  string
	Payload []byte
}

// Envelope is the text peers receive: "[sender] payload".
func (m Message) Envelope() []byte {
	return FormatEnvelope(m.Sender, m.Payload)
}

func FormatEnvelope(sender string, payload []byte) []byte {
	out := make([]byte, 0, len(sender)+3+len(payload))
	out = append(out, '[')
	out = append(out, sender...)
	out = append(out, "] "...)
	return append(out, payload...)
}

var (
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrPeerClosed          = errors.New("peer closed")
	ErrTransport           = errors.New("transport error")
	ErrDecode              = errors.New("invalid utf-8 payload")
	ErrQueueFull           = errors.New("send queue full")
)

// DeliveryError reports a failed write to one broadcast recipient.
type DeliveryError struct {
	Peer string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Peer, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Reason labels why a handler left its read loop.
type Reason string

const (
	ReasonPeerClosed Reason = "peer_closed"
	ReasonTransport  Reason = "transport_error"
	ReasonDecode     Reason = "decode_error"
	ReasonDuplicate  Reason = "duplicate_connection"
)

// ReasonOf classifies a handler exit error.
func ReasonOf(err error) Reason {
	switch {
	case errors.Is(err, ErrPeerClosed):
		return ReasonPeerClosed
	case errors.Is(err, ErrDecode):
		return ReasonDecode
	case errors.Is(err, ErrDuplicateConnection):
		return ReasonDuplicate
	default:
		return ReasonTransport
	}
}

// State is a handler lifecycle stage.
type State int32

const (
	StateConnected State = iota
	StateReading
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReading:
		return "reading"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
