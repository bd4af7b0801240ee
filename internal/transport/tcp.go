package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/brlapi/bapserver/internal/authn"
	"github.com/brlapi/bapserver/internal/protocolio"
	"github.com/brlapi/bapserver/internal/wire"
)

// BasePort is the TCP base port spec.md §6 specifies: 35751 + port_offset.
const BasePort = 35751

// TCPListener binds the TCP transport. Host is empty to listen on all
// interfaces, matching the "empty host means prefer local, else
// loopback" client-side default described in spec.md §6 (server-side it
// just means "every interface").
type TCPListener struct {
	Host string
	Port int

	mu sync.Mutex
	ln *net.TCPListener
}

// NewTCPListener computes Port as BasePort+portOffset.
func NewTCPListener(host string, portOffset int) *TCPListener {
	return &TCPListener{Host: host, Port: BasePort + portOffset}
}

// Addr returns the bound listener's actual address, useful for tests
// that construct a TCPListener with Port: 0 and let the OS pick one.
func (l *TCPListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

func (l *TCPListener) bindOnce() error {
	addr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:%d", l.Host, l.Port))
	if err != nil {
		return err
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	return nil
}

// Serve implements Listener.
func (l *TCPListener) Serve(ctx context.Context, out chan<- Accepted) error {
	for {
		if err := l.bindOnce(); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(BindRetryInterval):
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-done:
		}
	}()

	for {
		conn, err := l.ln.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		out <- Accepted{
			Conn:  protocolio.NewConn(wire.New(conn)),
			Creds: authn.Credentials{}, // TCP carries no peer uid; key-file auth applies
			Local: false,
			Addr:  conn.RemoteAddr().String(),
		}
	}
}

// Close stops accepting new connections.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		err := l.ln.Close()
		l.ln = nil
		return err
	}
	return nil
}
