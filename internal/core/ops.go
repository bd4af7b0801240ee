package core

import (
	"context"

	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/connstate"
	"github.com/brlapi/bapserver/internal/driver"
	"github.com/brlapi/bapserver/internal/protocolio"
)

func (c *Core) opEnterTty(ctx context.Context, wc *protocolio.Conn, conn *connstate.Connection, payload []byte) error {
	req, err := protocolio.UnmarshalEnterTty(payload)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed enter_tty payload")
	}
	if req.DriverName != "" && req.DriverName != c.cfg.Driver.Name() {
		return bap.Newf(bap.UnknownTty, "no such driver %q", req.DriverName)
	}

	handle, err := c.tree.Lookup(req.Path)
	if err != nil {
		return bap.Newf(bap.OSError, "enter_tty: %v", err)
	}
	if err := conn.Transition("enter_tty"); err != nil {
		return err
	}
	if err := conn.AttachTty(handle, req.Path); err != nil {
		return err
	}
	if err := c.tree.AddConnection(handle, conn); err != nil {
		return err
	}

	size := c.cfg.Driver.DisplaySize()
	conn.EnsureBufferSize(int(size.Width) * int(size.Height))

	return wc.SendAck()
}

func (c *Core) opLeaveTty(wc *protocolio.Conn, conn *connstate.Connection) error {
	handle, ok := conn.TtyHandle()
	if !ok {
		return bap.ErrIllegalInstruction
	}
	if err := conn.Transition("leave_tty"); err != nil {
		return err
	}
	c.tree.RemoveConnection(handle, conn)
	conn.DetachTty()
	_ = c.arb.Refresh(c.tree, true)
	return wc.SendAck()
}

func (c *Core) opSetFocus(wc *protocolio.Conn, conn *connstate.Connection, payload []byte) error {
	if err := conn.RequireState(connstate.StateTtyOwner); err != nil {
		return err
	}
	req, err := protocolio.UnmarshalSetFocus(payload)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed set_focus payload")
	}
	handle, ok := conn.TtyHandle()
	if !ok {
		return bap.ErrIllegalInstruction
	}
	if err := c.tree.SetFocus(handle, int32(req.TtyNumber)); err != nil {
		return bap.Newf(bap.UnknownTty, "set_focus: %v", err)
	}

	// Focus changing out from under an in-flight write is resolved by
	// treating the change as an implicit force refresh (spec.md §9).
	_ = c.arb.Refresh(c.tree, true)
	return wc.SendAck()
}

func (c *Core) opWriteCells(wc *protocolio.Conn, conn *connstate.Connection, payload []byte) error {
	if err := conn.RequireState(connstate.StateTtyOwner); err != nil {
		return err
	}

	size := c.cfg.Driver.DisplaySize()
	width := size.Width * size.Height

	req, err := protocolio.UnmarshalWriteCells(payload, width)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed write_cells payload")
	}

	begin, regionSize := uint32(0), width
	if req.HasRegion {
		begin, regionSize = req.RegionBegin, req.RegionSize
	}

	var cursor *connstate.Cursor
	if req.HasCursor {
		cursor = &connstate.Cursor{X: req.CursorX, Y: req.CursorY}
	}

	var text []byte
	if req.HasText {
		text = req.Text
	}
	var andMask []byte
	if req.HasAndMask {
		andMask = req.AndMask
	}
	var orMask []byte
	if req.HasOrMask {
		orMask = req.OrMask
	}

	if err := conn.Write(begin, regionSize, text, andMask, orMask, cursor); err != nil {
		return err
	}

	if err := c.arb.Refresh(c.tree, false); err != nil {
		return bap.Newf(bap.DriverError, "write_cells: %v", err)
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.FramesWrittenTotal.Inc()
	}
	return wc.SendAck()
}

func (c *Core) opKeyRanges(wc *protocolio.Conn, conn *connstate.Connection, payload []byte, accept bool) error {
	req, err := protocolio.UnmarshalKeyRanges(payload)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed key ranges payload")
	}
	for _, r := range req.Ranges {
		if accept {
			conn.Filter.Accept(r)
		} else {
			conn.Filter.Ignore(r)
		}
	}
	return wc.SendAck()
}

func (c *Core) opEnterRaw(ctx context.Context, wc *protocolio.Conn, conn *connstate.Connection, payload []byte) error {
	req, err := protocolio.UnmarshalEnterRaw(payload)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed enter_raw payload")
	}
	if req.Magic != protocolio.RawMagic {
		return bap.New(bap.InvalidParameter, "enter_raw: bad magic")
	}
	if req.DriverName != "" && req.DriverName != c.cfg.Driver.Name() {
		return bap.Newf(bap.UnknownTty, "no such driver %q", req.DriverName)
	}
	if err := conn.RequireState(connstate.StateIdle); err != nil {
		return err
	}

	if err := c.raw.EnterRaw(ctx, conn, c.cfg.Driver); err != nil {
		return err
	}
	if err := conn.Transition("enter_raw"); err != nil {
		_ = c.raw.LeaveRaw(conn, c.cfg.Driver)
		return err
	}
	return wc.SendAck()
}

func (c *Core) opLeaveRaw(wc *protocolio.Conn, conn *connstate.Connection) error {
	if err := c.raw.LeaveRaw(conn, c.cfg.Driver); err != nil {
		if bap.CodeOf(err) == bap.IllegalInstruction {
			return err
		}
		// The reset hook failed: restart the driver (Close then Open).
		_ = c.cfg.Driver.Close()
		if err := c.cfg.Driver.Open(context.Background()); err != nil {
			return bap.Newf(bap.DriverError, "leave_raw: restart: %v", err)
		}
	}
	if err := conn.Transition("leave_raw"); err != nil {
		return err
	}
	return wc.SendAck()
}

func (c *Core) opSendRaw(wc *protocolio.Conn, conn *connstate.Connection, payload []byte) error {
	if err := conn.RequireState(connstate.StateRaw); err != nil {
		return err
	}
	if err := c.cfg.Driver.SendRaw(payload); err != nil {
		return bap.Newf(bap.DriverError, "send_raw: %v", err)
	}
	return wc.SendAck()
}

// opSuspendDriver implements spec.md §4.I: releases the physical device so
// another process on the host may use it. Sharing the raw/suspend
// singleton is enforced inside internal/suspend; here we additionally
// drive the connstate transition the singleton claim alone does not.
func (c *Core) opSuspendDriver(wc *protocolio.Conn, conn *connstate.Connection, payload []byte) error {
	req, err := protocolio.UnmarshalSuspendDriver(payload)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed suspend_driver payload")
	}
	if req.DriverName != "" && req.DriverName != c.cfg.Driver.Name() {
		return bap.Newf(bap.UnknownTty, "no such driver %q", req.DriverName)
	}
	if err := conn.RequireState(connstate.StateIdle); err != nil {
		return err
	}

	if err := c.suspend.SuspendDriver(conn, c.cfg.Driver); err != nil {
		return err
	}
	if err := conn.Transition("suspend_driver"); err != nil {
		_ = c.suspend.ResumeDriver(context.Background(), conn, c.cfg.Driver, c.tree, c.arb.Refresh)
		return err
	}
	return wc.SendAck()
}

// opResumeDriver implements spec.md §4.I's resume half: re-opens the
// device and forces a refresh of the currently selected buffer.
func (c *Core) opResumeDriver(ctx context.Context, wc *protocolio.Conn, conn *connstate.Connection) error {
	if err := c.suspend.ResumeDriver(ctx, conn, c.cfg.Driver, c.tree, c.arb.Refresh); err != nil {
		return err
	}
	if err := conn.Transition("resume_driver"); err != nil {
		return err
	}
	return wc.SendAck()
}

// opGetParameter implements spec.md §4.E's typed parameter store read.
func (c *Core) opGetParameter(wc *protocolio.Conn, conn *connstate.Connection, payload []byte) error {
	if err := conn.RequireState(connstate.StateTtyOwner); err != nil {
		return err
	}
	req, err := protocolio.UnmarshalParameterRequest(payload)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed get_parameter payload")
	}
	value, err := c.cfg.Driver.GetParameter(driver.ParamID(req.ParamID), req.Subparam)
	if err != nil {
		return bap.Newf(bap.DriverError, "get_parameter: %v", err)
	}
	wireVal, err := protocolio.ParameterValueFromAny(value)
	if err != nil {
		return bap.Newf(bap.DriverError, "get_parameter: %v", err)
	}
	return wc.Send(protocolio.TagParameterValue, wireVal.Marshal())
}

// opSetParameter implements spec.md §4.E's typed parameter store write,
// then fans the new value out to every connection currently watching it
// (spec.md §4.E's watch_parameter contract).
func (c *Core) opSetParameter(wc *protocolio.Conn, conn *connstate.Connection, payload []byte) error {
	if err := conn.RequireState(connstate.StateTtyOwner); err != nil {
		return err
	}
	req, err := protocolio.UnmarshalSetParameter(payload)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed set_parameter payload")
	}
	value, err := req.Value.ToAny()
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed set_parameter value")
	}
	if err := c.cfg.Driver.SetParameter(driver.ParamID(req.ParamID), req.Subparam, value); err != nil {
		return bap.Newf(bap.DriverError, "set_parameter: %v", err)
	}
	c.notifyParameterChanged(driver.ParamID(req.ParamID), req.Subparam, req.Value)
	return wc.SendAck()
}

// opWatchParameter implements spec.md §4.E's watch_parameter: registers
// conn for parameter-update pushes and replies with the descriptor
// unwatch_parameter later references.
func (c *Core) opWatchParameter(wc *protocolio.Conn, conn *connstate.Connection, payload []byte) error {
	if err := conn.RequireState(connstate.StateTtyOwner); err != nil {
		return err
	}
	req, err := protocolio.UnmarshalParameterRequest(payload)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed watch_parameter payload")
	}
	descriptor := c.watchParameter(conn, driver.ParamID(req.ParamID), req.Subparam, driver.Scope(req.Scope))
	return wc.Send(protocolio.TagWatchDescriptor, protocolio.WatchDescriptorPayload{Descriptor: descriptor}.Marshal())
}

// opUnwatchParameter implements spec.md §4.E's unwatch_parameter.
func (c *Core) opUnwatchParameter(wc *protocolio.Conn, conn *connstate.Connection, payload []byte) error {
	if err := conn.RequireState(connstate.StateTtyOwner); err != nil {
		return err
	}
	req, err := protocolio.UnmarshalUnwatchParameter(payload)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed unwatch_parameter payload")
	}
	if err := c.unwatchParameter(conn, req.Descriptor); err != nil {
		return err
	}
	return wc.SendAck()
}
