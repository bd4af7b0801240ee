package authn

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brlapi/bapserver/internal/bap"
)

type fakeCredSource struct {
	creds Credentials
	err   error
}

func (f fakeCredSource) PeerCredentials() (Credentials, error) { return f.creds, f.err }

func TestCheckVersionMismatch(t *testing.T) {
	n, err := New(Config{AllowNone: true})
	require.NoError(t, err)
	defer n.Close()

	err = n.CheckVersion(6)
	require.Equal(t, bap.ProtocolVersion, bap.CodeOf(err))
	require.NoError(t, n.CheckVersion(ProtocolVersion))
}

func TestOfferedMethodsOrder(t *testing.T) {
	cfg := Config{AllowNone: true, KeyFilePath: "x", AllowedUIDs: []uint32{1}, AllowedGIDs: []uint32{2}}
	require.Equal(t, []Method{MethodNone, MethodKeyFile, MethodLocalUser, MethodLocalGroup}, cfg.OfferedMethods())
}

func TestAuthNoneRejectedWhenNotConfigured(t *testing.T) {
	n, err := New(Config{})
	require.NoError(t, err)
	defer n.Close()

	err = n.Authenticate(context.Background(), MethodNone, nil, nil)
	require.Equal(t, bap.Authentication, bap.CodeOf(err))
}

func TestAuthKeyFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(path, []byte("s3cr3t"), 0o600))

	n, err := New(Config{KeyFilePath: path})
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Authenticate(context.Background(), MethodKeyFile, []byte("s3cr3t"), nil))

	err = n.Authenticate(context.Background(), MethodKeyFile, []byte("wrong"), nil)
	require.Equal(t, bap.Authentication, bap.CodeOf(err))
}

func TestAuthLocalUser(t *testing.T) {
	n, err := New(Config{AllowedUIDs: []uint32{1000}})
	require.NoError(t, err)
	defer n.Close()

	ok := fakeCredSource{creds: Credentials{UID: 1000, Valid: true}}
	require.NoError(t, n.Authenticate(context.Background(), MethodLocalUser, nil, ok))

	bad := fakeCredSource{creds: Credentials{UID: 2000, Valid: true}}
	err = n.Authenticate(context.Background(), MethodLocalUser, nil, bad)
	require.Equal(t, bap.Authentication, bap.CodeOf(err))
}

func TestAuthLocalGroupRequiresPeerCredentials(t *testing.T) {
	n, err := New(Config{AllowedGIDs: []uint32{5}})
	require.NoError(t, err)
	defer n.Close()

	noCreds := fakeCredSource{creds: Credentials{Valid: false}}
	err = n.Authenticate(context.Background(), MethodLocalGroup, nil, noCreds)
	require.Equal(t, bap.Authentication, bap.CodeOf(err))
}
