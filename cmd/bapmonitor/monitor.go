package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brlapi/bapserver/internal/core"
	"github.com/brlapi/bapserver/internal/driver/loopback"
)

// Mirrors the teacher's internal/ws timing constants and upgrader shape
// (internal/ws.Router/Client ReadPump/WritePump), generalized from a
// bidirectional PTY stream to a one-way, periodic state push: this
// dashboard is read-only, so there is no equivalent of the teacher's
// binary-message PTY-input branch.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	pushPeriod = 500 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// dashboard upgrades a request to a websocket and pushes core.Snapshot
// as JSON on pushPeriod until the client disconnects.
func dashboard(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("bapmonitor: upgrade failed: %v", err)
			return
		}
		go readPump(conn)
		writePump(conn, c)
	}
}

// readPump's only job is noticing the peer went away; a read-only
// dashboard never accepts client-originated control messages.
func readPump(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// terminalPreview streams a loopback driver's pty output verbatim, for
// operators who want to see the simulated display's hex-dump trace
// rather than just the connection/state snapshot. Input typed into the
// dashboard is forwarded to the pty via TerminalWriter, mirroring the
// teacher's ws.Client binary-message branch without its multi-user
// control-transfer machinery (this dashboard has exactly one writer: the
// one browser tab currently open).
func terminalPreview(drv *loopback.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("bapmonitor: terminal upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if tw, ok := drv.TerminalWriter(); ok {
					_, _ = tw.Write(data)
				}
			}
		}()

		preview := drv.Preview()
		for {
			select {
			case <-done:
				return
			case b, ok := <-preview:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.BinaryMessage, []byte{b}); err != nil {
					return
				}
			}
		}
	}
}

func writePump(conn *websocket.Conn, c *core.Core) {
	pushTicker := time.NewTicker(pushPeriod)
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pushTicker.Stop()
		pingTicker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-pushTicker.C:
			data, err := json.Marshal(c.Snapshot())
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
