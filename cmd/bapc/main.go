// Command bapc is a reference scripting client for BAP servers: a thin
// wrapper around the client package's calls, one subcommand per
// operation, in the spirit of the original project's brltty-ctl and
// xbrlapi sample programs. It exists for smoke-testing a bapserverd
// instance and for shell scripting, not as a production tool.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/brlapi/bapserver/client"
	"github.com/brlapi/bapserver/internal/authn"
)

func main() {
	var (
		network = pflag.String("network", "tcp", "\"tcp\" or \"unix\"")
		addr    = pflag.String("addr", "127.0.0.1:35751", "server address (host:port for tcp, socket path for unix)")
		tty     = pflag.Int32("tty", 0, "tty number to enter before running the command")
		timeout = pflag.Duration("timeout", 5*time.Second, "dial + handshake timeout")
	)
	pflag.Parse()

	if v := os.Getenv("BRLAPI_HOST"); v != "" {
		*addr = v
	}

	args := pflag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: bapc [flags] <command> [args...]")
		fmt.Fprintln(os.Stderr, "commands: write <text> | dots <hex bytes> | watch-keys | raw <hex bytes>")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := client.Dial(ctx, *network, *addr, authn.MethodNone, nil)
	if err != nil {
		fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.EnterTty(*tty, ""); err != nil {
		fatalf("enter_tty: %v", err)
	}
	defer conn.LeaveTty()

	switch args[0] {
	case "write":
		if len(args) < 2 {
			fatalf("write requires a text argument")
		}
		if err := conn.WriteText(0, strings.Join(args[1:], " ")); err != nil {
			fatalf("write: %v", err)
		}
	case "dots":
		if len(args) < 2 {
			fatalf("dots requires hex byte arguments")
		}
		dots, err := parseHexBytes(args[1:])
		if err != nil {
			fatalf("dots: %v", err)
		}
		if err := conn.WriteDots(dots); err != nil {
			fatalf("dots: %v", err)
		}
	case "watch-keys":
		watchKeys(conn)
	case "raw":
		if len(args) < 2 {
			fatalf("raw requires hex byte arguments")
		}
		payload, err := parseHexBytes(args[1:])
		if err != nil {
			fatalf("raw: %v", err)
		}
		if err := conn.EnterRaw(""); err != nil {
			fatalf("enter_raw: %v", err)
		}
		defer conn.LeaveRaw()
		if err := conn.SendRaw(payload); err != nil {
			fatalf("send_raw: %v", err)
		}
	default:
		fatalf("unknown command %q", args[0])
	}
}

func watchKeys(conn *client.Conn) {
	fmt.Fprintln(os.Stderr, "watching key events, Ctrl-C to stop")
	for code := range conn.Keys() {
		fmt.Printf("%d\n", uint64(code))
	}
}

func parseHexBytes(fields []string) ([]byte, error) {
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(strings.TrimPrefix(f, "0x"), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex byte %q: %w", f, err)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "bapc: "+format+"\n", args...)
	os.Exit(1)
}
