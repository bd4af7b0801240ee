package core

import "time"

// ConnectionSnapshot is one connection's state as exposed to an
// introspection client (cmd/bapmonitor), never to a BAP wire client.
type ConnectionSnapshot struct {
	ID          string    `json:"id"`
	Endpoint    string    `json:"endpoint"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Snapshot is a point-in-time view of Core's owned state, the same
// fields spec.md §9's ServerCore groups under one lock, shaped for JSON
// so cmd/bapmonitor can push it straight down a websocket.
type Snapshot struct {
	Connections []ConnectionSnapshot `json:"connections"`
	RawOwner    string                `json:"raw_owner,omitempty"`
	SuspendedBy string                `json:"suspended_by,omitempty"`
}

// Snapshot takes the connections lock just long enough to copy out a
// read-only view; callers never see the live map or its *connstate.Connection
// values, keeping the lock-order discipline of package core's doc comment
// intact (an introspection reader never needs to enter the raw/suspend or
// driver locks).
func (c *Core) Snapshot() Snapshot {
	c.connsMu.Lock()
	conns := make([]ConnectionSnapshot, 0, len(c.conns))
	for _, e := range c.conns {
		conns = append(conns, ConnectionSnapshot{
			ID:          e.state.ID,
			Endpoint:    e.state.Endpoint.String(),
			State:       e.state.State().String(),
			ConnectedAt: e.state.ConnectedAt(),
		})
	}
	c.connsMu.Unlock()

	snap := Snapshot{Connections: conns}
	if owner := c.raw.CurrentOwner(); owner != nil {
		snap.RawOwner = owner.ID
	}
	if by := c.suspend.SuspendedBy(); by != nil {
		snap.SuspendedBy = by.ID
	}
	return snap
}
