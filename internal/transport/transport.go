// Package transport implements spec.md §5/§6's listener side: a
// per-listening-address bind-retry loop ("listener-bind thread") that
// tolerates a filesystem that is momentarily read-only or a network that
// is not yet up, handing each accepted connection to the caller already
// wrapped in internal/protocolio's framed Conn plus whatever peer
// credentials the transport was able to establish at accept time.
package transport

import (
	"context"
	"time"

	"github.com/brlapi/bapserver/internal/authn"
	"github.com/brlapi/bapserver/internal/protocolio"
)

// BindRetryInterval is how long a Listener waits between failed bind
// attempts before retrying (spec.md §5: "it loops on bind until success").
const BindRetryInterval = 500 * time.Millisecond

// Accepted is one freshly-accepted connection, credentials already
// resolved (spec.md §4.B: "the check result is cached on the
// connection").
type Accepted struct {
	Conn  *protocolio.Conn
	Creds authn.Credentials
	Local bool
	Addr  string
}

// Listener runs a bind-retry loop and delivers accepted connections on
// out until ctx is cancelled or a fatal (non-bind) error occurs. Serve
// owns out only to the extent of sending on it; it never closes it,
// since multiple listeners may share one channel.
type Listener interface {
	Serve(ctx context.Context, out chan<- Accepted) error
	Close() error
}

type staticCredentialSource struct{ creds authn.Credentials }

func (s staticCredentialSource) PeerCredentials() (authn.Credentials, error) {
	return s.creds, nil
}

// CredentialSource adapts the credentials resolved once at accept time
// into the authn.CredentialSource interface authn.Negotiator.Authenticate
// expects, so the negotiator never needs to know about sockets.
func CredentialSource(creds authn.Credentials) authn.CredentialSource {
	return staticCredentialSource{creds: creds}
}
