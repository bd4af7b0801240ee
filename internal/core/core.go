// Package core wires components A-I into the single owned Core
// value spec.md §9 calls for in place of module-level global state: the
// tty tree, the raw/suspend singleton, the write arbiter and its driver
// mutex, and the live connection table, all reachable only through Core
// so every lock acquisition follows the declared order (spec.md §5):
// connections -> raw/suspend -> (mask|brl) -> driver. The key-dispatch
// tree-walk of spec.md §4.G lives here rather than in internal/dispatch
// or internal/tty because it is the one place allowed to depend on both.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/brlapi/bapserver/internal/arbiter"
	"github.com/brlapi/bapserver/internal/authn"
	"github.com/brlapi/bapserver/internal/connstate"
	"github.com/brlapi/bapserver/internal/driver"
	"github.com/brlapi/bapserver/internal/metrics"
	"github.com/brlapi/bapserver/internal/obslog"
	"github.com/brlapi/bapserver/internal/protocolio"
	"github.com/brlapi/bapserver/internal/rawmode"
	"github.com/brlapi/bapserver/internal/suspend"
	"github.com/brlapi/bapserver/internal/transport"
	"github.com/brlapi/bapserver/internal/tty"
)

// Config is everything Core needs beyond what it constructs itself.
type Config struct {
	Driver           driver.Driver
	Authn            *authn.Negotiator
	Renderer         arbiter.Renderer
	Metrics          *metrics.Registry
	Logger           *obslog.Logger
	HandshakeTimeout time.Duration
}

// Core is the server's single owned mutable-state value.
type Core struct {
	cfg     Config
	tree    *tty.Tree
	raw     *rawmode.Coordinator
	suspend *suspend.Coordinator
	arb     *arbiter.Arbiter
	log     *obslog.Logger

	connsMu sync.Mutex
	conns   map[string]*connEntry

	unauthMu    sync.Mutex
	unauthCount int

	paramMu      sync.Mutex
	paramNextID  uint32
	paramWatches map[uint32]paramWatch
}

// connEntry pairs a connection's lifecycle state with the framed wire
// conn used to push it unsolicited frames (key events, raw passthrough
// bytes) from the key-dispatch loop, which only ever sees the
// connstate.Connection side through tty.Filler.
type connEntry struct {
	wire  *protocolio.Conn
	state *connstate.Connection
}

// New constructs a Core. The driver is opened immediately (rather than
// lazily on first fill) because the key-dispatch loop below needs Driver.Keys() to be valid
// from the start: a braille terminal's front-panel keys must reach the
// built-in command processor even while no client owns the display.
func New(ctx context.Context, cfg Config) (*Core, error) {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = authn.HandshakeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = obslog.New(nil, 0)
	}

	raw := rawmode.New()
	c := &Core{
		cfg:          cfg,
		tree:         tty.NewTree(),
		raw:          raw,
		suspend:      suspend.New(raw),
		arb:          arbiter.New(cfg.Driver, cfg.Renderer),
		log:          obslog.Component(logger, "core"),
		conns:        make(map[string]*connEntry),
		paramWatches: make(map[uint32]paramWatch),
	}

	if err := cfg.Driver.Open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Run accepts connections from every listener and key events from the
// driver until ctx is cancelled. It returns the first fatal error from
// any listener (ctx cancellation itself is not reported as an error).
func (c *Core) Run(ctx context.Context, listeners []transport.Listener) error {
	accepted := make(chan transport.Accepted, 16)

	var wg sync.WaitGroup
	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Serve(ctx, accepted); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
	}

	go c.runKeyLoop(ctx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			return nil
		case acc := <-accepted:
			go c.handleConnection(ctx, acc)
		case err := <-errCh:
			return err
		}
	}
}

func (c *Core) registerConn(wc *protocolio.Conn, conn *connstate.Connection) {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()
	c.conns[conn.ID] = &connEntry{wire: wc, state: conn}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Connections.Inc()
		c.cfg.Metrics.ConnectionsTotal.Inc()
	}
}

func (c *Core) unregisterConn(conn *connstate.Connection) {
	c.connsMu.Lock()
	delete(c.conns, conn.ID)
	c.connsMu.Unlock()
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Connections.Dec()
	}
}

// cleanupConn releases anything conn might still hold: its tty
// attachment, and the raw/suspend singleton if it was the owner (spec.md
// §4.H: "on abnormal connection loss, the singleton is cleared").
func (c *Core) cleanupConn(conn *connstate.Connection) {
	conn.Close()
	if h, ok := conn.TtyHandle(); ok {
		c.tree.RemoveConnection(h, conn)
		conn.DetachTty()
		_ = c.arb.Refresh(c.tree, true)
	}
	// Check suspend before raw: ReleaseIfOwner clears the shared singleton
	// unconditionally for whichever mode conn holds, so checking suspend
	// ownership afterward would always see it already cleared.
	if c.suspend.SuspendedBy() == conn {
		_ = c.suspend.ResumeDriver(context.Background(), conn, c.cfg.Driver, c.tree, c.arb.Refresh)
	}
	c.raw.ReleaseIfOwner(conn, c.cfg.Driver)
	c.clearParameterWatches(conn)
}

// acquireUnauthSlot reports whether a new handshake may proceed, given
// the configured cap on simultaneous unauthenticated connections (spec.md
// §4.B). A cap of zero or less means unlimited. Every true result must be
// matched by exactly one releaseUnauthSlot once the handshake concludes,
// win or lose.
func (c *Core) acquireUnauthSlot() bool {
	max := c.cfg.Authn.MaxUnauthInFlight()
	c.unauthMu.Lock()
	defer c.unauthMu.Unlock()
	if max > 0 && c.unauthCount >= max {
		return false
	}
	c.unauthCount++
	return true
}

func (c *Core) releaseUnauthSlot() {
	c.unauthMu.Lock()
	c.unauthCount--
	c.unauthMu.Unlock()
}

// wireFor looks up the framed conn for a live connstate.Connection, used
// by the key-dispatch loop to push an unsolicited `k`/`p` frame. Returns
// nil if the connection has since closed.
func (c *Core) wireFor(conn *connstate.Connection) *protocolio.Conn {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()
	e, ok := c.conns[conn.ID]
	if !ok {
		return nil
	}
	return e.wire
}
