// Command bapserverd is the BAP server daemon: it owns one driver, binds
// the listeners spec.md §6 specifies (a Unix-domain socket per port
// offset, plus TCP), and runs internal/core.Core until told to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/brlapi/bapserver/internal/authn"
	"github.com/brlapi/bapserver/internal/core"
	"github.com/brlapi/bapserver/internal/driver"
	"github.com/brlapi/bapserver/internal/driver/loopback"
	"github.com/brlapi/bapserver/internal/metrics"
	"github.com/brlapi/bapserver/internal/obslog"
	"github.com/brlapi/bapserver/internal/transport"
)

// defaultSocketDir mirrors BRLAPI_SOCKETPATH's role in the original
// implementation: the directory every per-port Unix-domain socket and
// its lockfile live under.
const defaultSocketDir = "/var/run/bap"

func main() {
	var (
		portOffset    = pflag.IntP("port-offset", "p", 0, "port offset; TCP listens on 35751+offset, Unix socket at <socketdir>/<35751+offset>")
		socketDir     = pflag.String("socketdir", defaultSocketDir, "directory for the Unix-domain listener socket and its lockfile")
		tcpHost       = pflag.String("host", "", "TCP listen host; empty disables the TCP listener (local socket still binds)")
		driverName    = pflag.String("driver", "loopback", "device driver to open (\"loopback\" is the only driver built into this binary)")
		width         = pflag.Uint32("width", 40, "loopback driver: simulated display width in cells")
		height        = pflag.Uint32("height", 1, "loopback driver: simulated display height in rows")
		authMethod    = pflag.String("auth", "none", "comma-separated offered auth methods: none,keyfile,localuser,localgroup")
		keyFile       = pflag.String("keyfile", "", "path to the shared-secret file for the keyfile auth method")
		allowedUIDs   = pflag.IntSlice("allowed-uid", nil, "UIDs accepted by the localuser auth method")
		allowedGIDs   = pflag.IntSlice("allowed-gid", nil, "GIDs accepted by the localgroup auth method")
		maxUnauth     = pflag.Int("max-unauth", 8, "maximum simultaneous unauthenticated connections")
		handshakeWait = pflag.Duration("handshake-timeout", authn.HandshakeTimeout, "time a connection has to complete version/auth before being dropped")
		metricsAddr   = pflag.String("metrics-addr", "", "if set, serve Prometheus metrics at this address (e.g. 127.0.0.1:9100)")
		logLevel      = pflag.String("log-level", "info", "debug, info, warn, or error")
	)
	pflag.Parse()

	if v := os.Getenv("BRLAPI_HOST"); v != "" && *tcpHost == "" {
		*tcpHost = v
	}

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bapserverd: %v\n", err)
		os.Exit(2)
	}
	logger := obslog.New(os.Stderr, level)
	lg := obslog.Component(logger, "main")

	cfg, err := buildAuthConfig(*authMethod, *keyFile, *allowedUIDs, *allowedGIDs, *maxUnauth)
	if err != nil {
		lg.Fatal("invalid auth configuration", "err", err)
	}
	neg, err := authn.New(cfg)
	if err != nil {
		lg.Fatal("failed to start auth negotiator", "err", err)
	}

	var drv driver.Driver
	switch *driverName {
	case "loopback":
		drv = loopback.New(*width, *height)
	default:
		lg.Fatal("unknown driver", "name", *driverName)
	}

	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := core.New(ctx, core.Config{
		Driver:           drv,
		Authn:            neg,
		Renderer:         nil,
		Metrics:          metricsReg,
		Logger:           logger,
		HandshakeTimeout: *handshakeWait,
	})
	if err != nil {
		lg.Fatal("failed to start core", "err", err)
	}

	port := transport.BasePort + *portOffset
	listeners := []transport.Listener{transport.NewUnixListener(*socketDir, port)}
	if *tcpHost != "" {
		listeners = append(listeners, &transport.TCPListener{Host: *tcpHost, Port: port})
	}

	if *metricsAddr != "" {
		go serveMetrics(lg, *metricsAddr, reg)
	}

	lg.Info("starting", "port", port, "socketdir", *socketDir, "tcp_host", *tcpHost, "driver", drv.Name())

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx, listeners) }()

	select {
	case <-ctx.Done():
		lg.Info("shutdown signal received")
	case err := <-runErr:
		if err != nil {
			lg.Error("server stopped with error", "err", err)
		}
	}

	for _, l := range listeners {
		_ = l.Close()
	}
	_ = drv.Close()

	lg.Info("stopped")
}

// buildAuthConfig translates the CLI's comma-separated method list and
// int slices into authn.Config, the same "flags in, validated struct
// out" shape doismellburning-samoyed uses for its radio parameters.
func buildAuthConfig(methodList, keyFile string, uids, gids []int, maxUnauth int) (authn.Config, error) {
	cfg := authn.Config{
		MaxUnauthInFlight: maxUnauth,
	}
	for _, m := range strings.Split(methodList, ",") {
		switch strings.TrimSpace(m) {
		case "none":
			cfg.AllowNone = true
		case "keyfile":
			if keyFile == "" {
				return authn.Config{}, fmt.Errorf("bapserverd: -auth=keyfile requires -keyfile")
			}
			cfg.KeyFilePath = keyFile
		case "localuser":
			cfg.AllowedUIDs = toUint32s(uids)
		case "localgroup":
			cfg.AllowedGIDs = toUint32s(gids)
		case "":
			// tolerate a trailing comma
		default:
			return authn.Config{}, fmt.Errorf("bapserverd: unknown auth method %q", m)
		}
	}
	return cfg, nil
}

func toUint32s(in []int) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}

func serveMetrics(lg *log.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	lg.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		lg.Error("metrics server stopped", "err", err)
	}
}
