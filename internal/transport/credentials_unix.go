//go:build unix

package transport

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/brlapi/bapserver/internal/authn"
)

// peerCredentials queries SO_PEERCRED on conn's underlying file
// descriptor, the platform-dependent query spec.md §4.B calls for on a
// local socket transport.
func peerCredentials(conn *net.UnixConn) (authn.Credentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return authn.Credentials{}, err
	}

	var ucred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return authn.Credentials{}, ctrlErr
	}
	if sockErr != nil {
		return authn.Credentials{}, sockErr
	}
	return authn.Credentials{UID: ucred.Uid, GID: ucred.Gid, Valid: true}, nil
}
