// Package loopback implements a Driver Port (internal/driver) backed by a
// pseudo-terminal, for development and tests without any real braille
// hardware attached. Cell writes are rendered as a hex dump line written
// to the pty; keystrokes typed into the pty arrive as driver-native key
// events, one per input byte.
package loopback

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/driver"
)

// Driver is a creack/pty-backed stand-in for a physical display,
// structured after the teacher's internal/pty.PTY (cmd+ptmx pair behind a
// mutex, a cached Done channel), generalized to the driver.Driver
// interface instead of a terminal-multiplexer session.
type Driver struct {
	size driver.Size

	mu     sync.Mutex
	cmd    *exec.Cmd
	ptmx   *os.File
	closed bool

	keys    chan uint64
	raw     chan []byte
	rawMode bool

	preview chan byte // best-effort tap of every byte readLoop sees, for cmd/bapmonitor
}

// New constructs a loopback driver with the given simulated display
// geometry. The shell invoked inside the pty only exists to give the pty
// a controlling process; its stdio is not otherwise used.
func New(width, height uint32) *Driver {
	return &Driver{
		size:    driver.Size{Width: width, Height: height},
		keys:    make(chan uint64, 256),
		raw:     make(chan []byte, 64),
		preview: make(chan byte, 512),
	}
}

func (d *Driver) Name() string { return "loopback" }

func (d *Driver) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.ptmx != nil && !d.closed {
		d.mu.Unlock()
		return nil
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(d.size.Width), Rows: uint16(d.size.Height)})
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("loopback: open pty: %w", err)
	}
	d.cmd = cmd
	d.ptmx = ptmx
	d.closed = false
	d.mu.Unlock()

	go d.readLoop(ptmx)
	return nil
}

func (d *Driver) readLoop(f *os.File) {
	buf := make([]byte, 256)
	for {
		n, err := f.Read(buf)
		for i := 0; i < n; i++ {
			b := buf[i]
			select {
			case d.preview <- b:
			default:
			}
			d.mu.Lock()
			rawMode := d.rawMode
			d.mu.Unlock()
			if rawMode {
				select {
				case d.raw <- []byte{b}:
				default:
				}
				continue
			}
			select {
			case d.keys <- uint64(b):
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.ptmx == nil {
		return nil
	}
	d.closed = true
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	return d.ptmx.Close()
}

func (d *Driver) DisplaySize() driver.Size { return d.size }

func (d *Driver) WriteCells(begin, size uint32, cells []byte) error {
	d.mu.Lock()
	f := d.ptmx
	closed := d.closed
	d.mu.Unlock()
	if closed || f == nil {
		return driver.ErrClosed
	}
	line := fmt.Sprintf("\r\x1b[K[cells %d:%d] % x\n", begin, size, cells)
	_, err := f.WriteString(line)
	return err
}

func (d *Driver) Keys() <-chan uint64 { return d.keys }

func (d *Driver) SupportsRaw() bool { return true }

func (d *Driver) SendRaw(p []byte) error {
	d.mu.Lock()
	f := d.ptmx
	closed := d.closed
	d.rawMode = true
	d.mu.Unlock()
	if closed || f == nil {
		return driver.ErrClosed
	}
	_, err := f.Write(p)
	return err
}

func (d *Driver) RecvRaw() (<-chan []byte, error) {
	return d.raw, nil
}

// Reset clears raw mode so subsequent bytes are decoded as key events
// again, per spec.md §4.H's exit hook.
func (d *Driver) Reset() error {
	d.mu.Lock()
	d.rawMode = false
	d.mu.Unlock()
	return nil
}

// TerminalWriter exposes the pty master for injecting bytes (e.g. a
// command typed into cmd/bapmonitor's embedded terminal view), without
// competing with readLoop's single reader of the same fd. Returns false
// if the driver has not been opened yet or has since closed.
func (d *Driver) TerminalWriter() (io.Writer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.ptmx == nil {
		return nil, false
	}
	return d.ptmx, true
}

// Preview streams every byte the pty has produced, for cmd/bapmonitor's
// embedded terminal view; it never steals bytes from Keys()/RecvRaw(),
// only duplicates what readLoop already consumed.
func (d *Driver) Preview() <-chan byte { return d.preview }

func (d *Driver) GetParameter(id driver.ParamID, subparam uint32) (any, error) {
	switch id {
	case driver.ParamDisplaySize:
		return d.size, nil
	case driver.ParamDriverName:
		return d.Name(), nil
	default:
		return nil, bap.ErrOpNotSupported
	}
}

func (d *Driver) SetParameter(id driver.ParamID, subparam uint32, value any) error {
	return bap.Newf(bap.OpNotSupported, "loopback: parameter %d is read-only", id)
}
