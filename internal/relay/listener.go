package relay

import (
	"fmt"
	"net"
)

// Listener yields accepted transports. Accept blocks; after Close it
// returns an error wrapping net.ErrClosed.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

type tcpListener struct {
	ln net.Listener
}

// ListenTCP binds addr and returns it as a Listener.
func ListenTCP(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &tcpListener{ln: ln}, nil
}

// WrapListener adapts an existing net.Listener.
func WrapListener(ln net.Listener) Listener {
	return &tcpListener{ln: ln}
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (l *tcpListener) Close() error   { return l.ln.Close() }
func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }
