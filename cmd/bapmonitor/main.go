// Command bapmonitor runs a bapserverd-equivalent core alongside a
// read-only operator dashboard: a websocket pushing periodic
// internal/core.Snapshot JSON, plus (when the loopback driver is
// selected) an embedded terminal preview of the simulated display. It is
// independent of the BAP wire protocol itself, the way the teacher keeps
// its control-plane websocket separate from PTY data sockets.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/brlapi/bapserver/internal/authn"
	"github.com/brlapi/bapserver/internal/core"
	"github.com/brlapi/bapserver/internal/driver"
	"github.com/brlapi/bapserver/internal/driver/loopback"
	"github.com/brlapi/bapserver/internal/metrics"
	"github.com/brlapi/bapserver/internal/obslog"
	"github.com/brlapi/bapserver/internal/transport"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		portOffset   = pflag.IntP("port-offset", "p", 0, "BAP port offset, same meaning as bapserverd")
		socketDir    = pflag.String("socketdir", "/var/run/bap", "directory for the Unix-domain BAP listener socket")
		tcpHost      = pflag.String("host", "127.0.0.1", "TCP host for the BAP listener")
		dashboardAddr = pflag.String("dashboard-addr", "127.0.0.1:8090", "address the operator dashboard HTTP/websocket server binds")
		width        = pflag.Uint32("width", 40, "loopback driver: simulated display width in cells")
		height       = pflag.Uint32("height", 1, "loopback driver: simulated display height in rows")
	)
	pflag.Parse()

	logger := obslog.New(os.Stderr, log.InfoLevel)
	lg := obslog.Component(logger, "bapmonitor")

	neg, err := authn.New(authn.Config{AllowNone: true})
	if err != nil {
		lg.Fatal("failed to start auth negotiator", "err", err)
	}

	lb := loopback.New(*width, *height)
	var drv driver.Driver = lb

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := core.New(ctx, core.Config{
		Driver:   drv,
		Authn:    neg,
		Renderer: nil,
		Metrics:  metrics.NewRegistry(prometheus.NewRegistry()),
		Logger:   logger,
	})
	if err != nil {
		lg.Fatal("failed to start core", "err", err)
	}

	port := transport.BasePort + *portOffset
	listeners := []transport.Listener{
		transport.NewUnixListener(*socketDir, port),
		&transport.TCPListener{Host: *tcpHost, Port: port},
	}

	go func() {
		if err := c.Run(ctx, listeners); err != nil && ctx.Err() == nil {
			lg.Error("core stopped with error", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /ws", dashboard(c))
	mux.HandleFunc("GET /terminal/ws", terminalPreview(lb))
	mux.HandleFunc("GET /", serveDashboardPage)

	lg.Info("dashboard listening", "addr", *dashboardAddr, "bap_port", port)
	fmt.Fprintf(os.Stderr, "bapmonitor: dashboard at http://%s/\n", *dashboardAddr)
	if err := http.ListenAndServe(*dashboardAddr, mux); err != nil {
		lg.Fatal("dashboard server stopped", "err", err)
	}
}

func serveDashboardPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!doctype html>
<html>
<head><title>bapmonitor</title></head>
<body>
<h1>bapmonitor</h1>
<pre id="snapshot">connecting...</pre>
<script>
  var ws = new WebSocket("ws://" + location.host + "/ws");
  ws.onmessage = function(ev) {
    document.getElementById("snapshot").textContent = JSON.stringify(JSON.parse(ev.data), null, 2);
  };
</script>
</body>
</html>
`
