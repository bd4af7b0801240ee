package core

import (
	"context"

	"github.com/brlapi/bapserver/internal/connstate"
	"github.com/brlapi/bapserver/internal/keycode"
	"github.com/brlapi/bapserver/internal/protocolio"
)

// runKeyLoop is the server-thread counterpart of spec.md §4.G: it reads
// raw key codes off the driver's channel and, while raw mode is held by
// some connection, inbound raw device bytes, for as long as ctx is live.
func (c *Core) runKeyLoop(ctx context.Context) {
	keys := c.cfg.Driver.Keys()
	var raw <-chan []byte
	if c.cfg.Driver.SupportsRaw() {
		raw, _ = c.cfg.Driver.RecvRaw()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-keys:
			if !ok {
				return
			}
			c.dispatchKey(keycode.Code(v))
		case p, ok := <-raw:
			if !ok {
				raw = nil
				continue
			}
			c.forwardRaw(p)
		}
	}
}

// dispatchKey implements spec.md §4.G: walk the focus-descent path root
// to leaf, in list order within each node, and deliver to the first
// connection whose filter admits the code. If none admits it, the event
// goes to the built-in command processor instead.
func (c *Core) dispatchKey(code keycode.Code) {
	for _, f := range c.tree.FocusPathConnections() {
		conn, ok := f.(*connstate.Connection)
		if !ok || !conn.Filter.Admits(code) {
			continue
		}

		dropped := conn.Deliver(code)
		if c.cfg.Metrics != nil {
			if dropped {
				c.cfg.Metrics.KeyEventsDropped.Inc()
			}
			c.cfg.Metrics.KeyEventsTotal.WithLabelValues("delivered").Inc()
		}

		if wc := c.wireFor(conn); wc != nil {
			_ = wc.Send(protocolio.TagKeyEvent, protocolio.KeyEventPayload{Code: code}.Marshal())
		}
		return
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.KeyEventsTotal.WithLabelValues("builtin").Inc()
	}
	c.builtinCommand(code)
}

// builtinCommand handles a key no connection's filter admitted. spec.md
// does not enumerate a concrete built-in command set (§9 leaves the
// driver-specific front-panel vocabulary to the driver port); this is
// the hook a driver's command family registers against once it defines
// one. For now it is a deliberate no-op rather than a speculative guess
// at commands nothing in this module's scope requires.
func (c *Core) builtinCommand(code keycode.Code) {
	c.log.Debug("unrouted key reached built-in processor", "code", code)
}

// forwardRaw pushes inbound raw device bytes to whichever connection
// currently holds raw mode (spec.md §4.H).
func (c *Core) forwardRaw(p []byte) {
	owner := c.raw.CurrentOwner()
	if owner == nil {
		return
	}
	wc := c.wireFor(owner)
	if wc == nil {
		return
	}
	_ = wc.Send(protocolio.TagRawData, p)
}
