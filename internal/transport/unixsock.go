package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/brlapi/bapserver/internal/authn"
	"github.com/brlapi/bapserver/internal/protocolio"
	"github.com/brlapi/bapserver/internal/wire"
)

// UnixListener binds the local stream socket at <socketdir>/<port> with
// a sibling lockfile holding the server's PID (spec.md §6).
type UnixListener struct {
	SocketPath string
	LockPath   string

	mu       sync.Mutex
	ln       *net.UnixListener
	lockFile *os.File
}

// NewUnixListener builds the conventional <socketdir>/<port> path.
func NewUnixListener(socketDir string, port int) *UnixListener {
	path := filepath.Join(socketDir, strconv.Itoa(port))
	return &UnixListener{SocketPath: path, LockPath: path + ".lock"}
}

func (l *UnixListener) bindOnce() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lockFile, err := acquireLock(l.LockPath)
	if err != nil {
		return err
	}

	// Now that the lock is ours, any socket node left behind by a prior
	// crashed instance is safe to remove.
	os.Remove(l.SocketPath)

	addr, err := net.ResolveUnixAddr("unix", l.SocketPath)
	if err != nil {
		lockFile.Close()
		return err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		lockFile.Close()
		return err
	}
	if err := os.Chmod(l.SocketPath, 0o666); err != nil {
		ln.Close()
		lockFile.Close()
		return err
	}

	l.ln = ln
	l.lockFile = lockFile
	return nil
}

// Serve implements Listener.
func (l *UnixListener) Serve(ctx context.Context, out chan<- Accepted) error {
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
		conn, err := l.ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		creds, err := peerCredentials(conn)
		if err != nil {
			creds = authn.Credentials{}
		}
		out <- Accepted{
			Conn:  protocolio.NewConn(wire.New(conn)),
			Creds: creds,
			Local: true,
			Addr:  conn.RemoteAddr().String(),
		}
	}
}

// Close releases the bound socket, the lockfile, and removes both the
// socket node and the lockfile from the filesystem.
func (l *UnixListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		l.ln.Close()
		l.ln = nil
	}
	if l.lockFile != nil {
		releaseLock(l.lockFile, l.SocketPath, l.LockPath)
		l.lockFile = nil
	}
	return nil
}
