package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brlapi/bapserver/internal/authn"
)

func TestUnixListenerAcceptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewUnixListener(dir, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Accepted, 1)
	serveErr := make(chan error, 1)
	go func() { serveErr <- l.Serve(ctx, out) }()

	socketPath := filepath.Join(dir, "1")
	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	client, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer client.Close()

	select {
	case acc := <-out:
		require.True(t, acc.Local)
		require.True(t, acc.Creds.Valid)
		require.Equal(t, uint32(os.Getuid()), acc.Creds.UID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}

	cancel()
	select {
	case <-serveErr:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after ctx cancellation")
	}

	_, err = os.Stat(socketPath)
	require.True(t, os.IsNotExist(err), "socket node should be removed on Close")
}

func TestUnixListenerLockfileRejectsSecondBind(t *testing.T) {
	dir := t.TempDir()
	l1 := NewUnixListener(dir, 1)
	require.NoError(t, l1.bindOnce())
	defer l1.Close()

	l2 := NewUnixListener(dir, 1)
	err := l2.bindOnce()
	require.Error(t, err)
}

func TestTCPListenerAcceptRoundTrip(t *testing.T) {
	l := &TCPListener{Host: "127.0.0.1", Port: 0}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Accepted, 1)
	go l.Serve(ctx, out)

	require.Eventually(t, func() bool {
		return l.Addr() != ""
	}, time.Second, 10*time.Millisecond)

	client, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer client.Close()

	select {
	case acc := <-out:
		require.False(t, acc.Local)
		require.False(t, acc.Creds.Valid)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}
}

func TestCredentialSourceWrapsStaticCreds(t *testing.T) {
	creds := authn.Credentials{UID: 42, GID: 7, Valid: true}
	src := CredentialSource(creds)
	got, err := src.PeerCredentials()
	require.NoError(t, err)
	require.Equal(t, creds, got)
}
