package core

import (
	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/connstate"
	"github.com/brlapi/bapserver/internal/driver"
	"github.com/brlapi/bapserver/internal/protocolio"
)

// paramWatch is one watch_parameter registration: which connection asked,
// and which (id, subparam) it wants parameter-update pushes for. Scope is
// carried for completeness (spec.md §4.E) but every change this server
// can produce comes from set_parameter itself, which is inherently
// server-wide, so local and global watches currently behave the same.
type paramWatch struct {
	connID   string
	id       driver.ParamID
	subparam uint32
	scope    driver.Scope
}

// watchParameter registers conn's interest in id/subparam and returns the
// descriptor unwatch_parameter later references.
func (c *Core) watchParameter(conn *connstate.Connection, id driver.ParamID, subparam uint32, scope driver.Scope) uint32 {
	c.paramMu.Lock()
	defer c.paramMu.Unlock()
	c.paramNextID++
	descriptor := c.paramNextID
	c.paramWatches[descriptor] = paramWatch{connID: conn.ID, id: id, subparam: subparam, scope: scope}
	return descriptor
}

// unwatchParameter removes a registration, failing with illegal_instruction
// if descriptor does not belong to conn (spec.md §4.E: a descriptor is
// only meaningful to the connection that obtained it).
func (c *Core) unwatchParameter(conn *connstate.Connection, descriptor uint32) error {
	c.paramMu.Lock()
	defer c.paramMu.Unlock()
	w, ok := c.paramWatches[descriptor]
	if !ok || w.connID != conn.ID {
		return bap.New(bap.IllegalInstruction, "unwatch_parameter: unknown descriptor")
	}
	delete(c.paramWatches, descriptor)
	return nil
}

// clearParameterWatches drops every watch conn still holds, called on
// connection close so a reused descriptor space never leaks into a
// future connection.
func (c *Core) clearParameterWatches(conn *connstate.Connection) {
	c.paramMu.Lock()
	defer c.paramMu.Unlock()
	for d, w := range c.paramWatches {
		if w.connID == conn.ID {
			delete(c.paramWatches, d)
		}
	}
}

// notifyParameterChanged pushes a parameter-update frame to every live
// watcher of id/subparam, called after a successful set_parameter.
func (c *Core) notifyParameterChanged(id driver.ParamID, subparam uint32, value protocolio.ParameterValue) {
	c.paramMu.Lock()
	var descriptors []uint32
	var connIDs []string
	for d, w := range c.paramWatches {
		if w.id == id && w.subparam == subparam {
			descriptors = append(descriptors, d)
			connIDs = append(connIDs, w.connID)
		}
	}
	c.paramMu.Unlock()

	for i, connID := range connIDs {
		c.connsMu.Lock()
		e, ok := c.conns[connID]
		c.connsMu.Unlock()
		if !ok {
			continue
		}
		payload := protocolio.ParameterUpdatePayload{Descriptor: descriptors[i], Value: value}.Marshal()
		_ = e.wire.Send(protocolio.TagParameterUpdate, payload)
	}
}
