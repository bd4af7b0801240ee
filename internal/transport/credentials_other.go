//go:build !unix

package transport

import (
	"net"

	"github.com/brlapi/bapserver/internal/authn"
	"github.com/brlapi/bapserver/internal/bap"
)

// peerCredentials has no portable equivalent outside unix; non-unix
// builds fall back to requiring an explicit auth method instead of the
// peer-uid check (spec.md §9 leaves named-pipe impersonation identity to
// the platform port).
func peerCredentials(conn *net.UnixConn) (authn.Credentials, error) {
	return authn.Credentials{}, bap.ErrOpNotSupported
}
