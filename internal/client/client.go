// Package client is the interactive relay client: it prints whatever the
// server sends and writes each typed line as one chunk.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"
)

const readBuffer = 1024

// ErrRefused means nothing is listening at the server address.
var ErrRefused = errors.New("connection refused")

// Dial connects to addr and announces the connection on out.
func Dial(addr string, timeout time.Duration, out io.Writer) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s", ErrRefused, addr)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	fmt.Fprintf(out, "[CONNECTED] Connected to server at %s\n", addr)
	return conn, nil
}

// Run prints received chunks in the background and sends lines from in
// until in ends or a line reads "quit" in any case. It closes conn and
// waits for the receive loop before returning.
func Run(conn net.Conn, in io.Reader, out io.Writer) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		Receive(conn, out)
	}()

	err := send(conn, in)
	_ = conn.Close()
	wg.Wait()
	return err
}

func send(conn net.Conn, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Text()
		if strings.EqualFold(strings.TrimSpace(line), "quit") {
			return nil
		}
		if line == "" {
			continue
		}
		if _, err := conn.Write([]byte(line)); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	return sc.Err()
}

// Receive prints each chunk from conn on its own line until the connection
// ends.
func Receive(conn net.Conn, out io.Writer) {
	buf := make([]byte, readBuffer)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			fmt.Fprintln(out, string(buf[:n]))
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, net.ErrClosed):
			// closed locally after quit
		case errors.Is(err, io.EOF):
			fmt.Fprintln(out, "[DISCONNECTED] Server connection lost.")
		default:
			fmt.Fprintln(out, "[DISCONNECTED] Server connection lost unexpectedly.")
		}
		return
	}
}
