// Package authn implements the Auth Negotiator of spec.md §4.B: version
// exchange, enumeration of server-supported auth methods, the
// method-specific challenge handshake, and the peer-credential check used
// by the none/local-user/local-group methods.
package authn

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/brlapi/bapserver/internal/bap"
)

// ProtocolVersion is the version this server negotiates, spec.md §4.B
// step 1/2 and §6's `v` tag.
const ProtocolVersion uint32 = 7

// HandshakeTimeout bounds the whole handshake from accept to
// authenticated, spec.md §5.
const HandshakeTimeout = 30 * time.Second

// MaxKeyFileSize is the same bound as the payload cap (spec.md §4.B:
// "the client reads a bounded file (same bound as payload cap)").
const MaxKeyFileSize = 512

// Method is one of the auth methods spec.md §4.B names.
type Method uint32

const (
	MethodNone Method = iota
	MethodKeyFile
	MethodLocalUser
	MethodLocalGroup
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodKeyFile:
		return "keyfile"
	case MethodLocalUser:
		return "localuser"
	case MethodLocalGroup:
		return "localgroup"
	default:
		return fmt.Sprintf("method(%d)", uint32(m))
	}
}

// Credentials is the result of a peer-credential check: a local socket's
// connected uid/gid, or a named-pipe's impersonation identity (spec.md
// §4.B). It is cached on the connection once queried.
type Credentials struct {
	UID   uint32
	GID   uint32
	Valid bool // false for transports with no peer-credential concept (e.g. TCP)
}

// CredentialSource is implemented by a transport-layer connection that
// can report its peer's credentials; TCP connections return
// Credentials{Valid: false}.
type CredentialSource interface {
	PeerCredentials() (Credentials, error)
}

// Config is the server's auth policy, spec.md §4.B's "methods the server
// is willing to accept" plus the data each needs to verify a request.
type Config struct {
	AllowNone        bool
	KeyFilePath      string   // compared byte-for-byte against the client's submission
	AllowedUIDs      []uint32 // local-user method
	AllowedGIDs      []uint32 // local-group method
	MaxUnauthInFlight int
}

// OfferedMethods returns the methods this config accepts, in the fixed
// order the auth-offer frame advertises them.
func (c Config) OfferedMethods() []Method {
	var out []Method
	if c.AllowNone {
		out = append(out, MethodNone)
	}
	if c.KeyFilePath != "" {
		out = append(out, MethodKeyFile)
	}
	if len(c.AllowedUIDs) > 0 {
		out = append(out, MethodLocalUser)
	}
	if len(c.AllowedGIDs) > 0 {
		out = append(out, MethodLocalGroup)
	}
	return out
}

// Negotiator verifies auth-request payloads against Config, keeping the
// key file's contents hot-reloaded via fsnotify so a rotated key takes
// effect without a server restart.
type Negotiator struct {
	cfg Config

	mu      sync.RWMutex
	keyData []byte

	watcher *fsnotify.Watcher
}

// New constructs a Negotiator and, if cfg names a key file, loads it and
// starts watching it for changes.
func New(cfg Config) (*Negotiator, error) {
	n := &Negotiator{cfg: cfg}
	if cfg.KeyFilePath == "" {
		return n, nil
	}
	if err := n.loadKeyFile(); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("authn: fsnotify: %w", err)
	}
	if err := w.Add(cfg.KeyFilePath); err != nil {
		w.Close()
		return nil, fmt.Errorf("authn: watch %s: %w", cfg.KeyFilePath, err)
	}
	n.watcher = w
	go n.watchLoop()
	return n, nil
}

func (n *Negotiator) loadKeyFile() error {
	data, err := os.ReadFile(n.cfg.KeyFilePath)
	if err != nil {
		return fmt.Errorf("authn: read key file: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("authn: key file %s is empty", n.cfg.KeyFilePath)
	}
	if len(data) > MaxKeyFileSize {
		data = data[:MaxKeyFileSize]
	}
	n.mu.Lock()
	n.keyData = data
	n.mu.Unlock()
	return nil
}

func (n *Negotiator) watchLoop() {
	for {
		select {
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_ = n.loadKeyFile()
			}
		case _, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the key file watcher, if any.
func (n *Negotiator) Close() error {
	if n.watcher != nil {
		return n.watcher.Close()
	}
	return nil
}

// OfferedMethods exposes the configured method list for the server's
// auth-offer frame without handing callers the whole Config.
func (n *Negotiator) OfferedMethods() []Method {
	return n.cfg.OfferedMethods()
}

// MaxUnauthInFlight is the configured cap on simultaneous unauthenticated
// connections (spec.md §4.B); zero or negative means no cap.
func (n *Negotiator) MaxUnauthInFlight() int {
	return n.cfg.MaxUnauthInFlight
}

// CheckVersion implements spec.md §4.B steps 1-2.
func (n *Negotiator) CheckVersion(clientVersion uint32) error {
	if clientVersion != ProtocolVersion {
		return bap.New(bap.ProtocolVersion, "protocol version mismatch")
	}
	return nil
}

// Authenticate verifies an auth-request for method against src (needed
// for the peer-credential methods) and payload (needed for keyfile). It
// returns nil on success.
func (n *Negotiator) Authenticate(ctx context.Context, method Method, payload []byte, src CredentialSource) error {
	switch method {
	case MethodNone:
		return n.authNone(src)
	case MethodKeyFile:
		return n.authKeyFile(payload)
	case MethodLocalUser:
		return n.authLocalUser(src)
	case MethodLocalGroup:
		return n.authLocalGroup(src)
	default:
		return bap.Newf(bap.UnknownInstruction, "authn: unknown method %d", method)
	}
}

func (n *Negotiator) authNone(src CredentialSource) error {
	if !n.cfg.AllowNone {
		return bap.New(bap.Authentication, "none method not accepted")
	}
	if src == nil {
		return nil
	}
	creds, err := src.PeerCredentials()
	if err != nil {
		return bap.Newf(bap.Authentication, "peer credential check: %v", err)
	}
	if !creds.Valid {
		// No peer-credential concept on this transport (e.g. TCP): "none"
		// still requires it only "when the transport is a local socket"
		// (spec.md §4.B), so a TCP connection passes without one.
		return nil
	}
	return nil
}

func (n *Negotiator) authKeyFile(payload []byte) error {
	if len(payload) == 0 {
		return bap.New(bap.Authentication, "empty key")
	}
	n.mu.RLock()
	want := n.keyData
	n.mu.RUnlock()

	if len(payload) != len(want) || subtle.ConstantTimeCompare(payload, want) != 1 {
		return bap.Newf(bap.Authentication, "key mismatch (got len=%d first4=%q, want len=%d first4=%q)",
			len(payload), safePrefix(payload, 4), len(want), safePrefix(want, 4))
	}
	return nil
}

func (n *Negotiator) authLocalUser(src CredentialSource) error {
	creds, err := n.requireCreds(src)
	if err != nil {
		return err
	}
	for _, uid := range n.cfg.AllowedUIDs {
		if creds.UID == uid {
			return nil
		}
	}
	return bap.Newf(bap.Authentication, "uid %d not in allowed list", creds.UID)
}

func (n *Negotiator) authLocalGroup(src CredentialSource) error {
	creds, err := n.requireCreds(src)
	if err != nil {
		return err
	}
	for _, gid := range n.cfg.AllowedGIDs {
		if creds.GID == gid {
			return nil
		}
	}
	return bap.Newf(bap.Authentication, "gid %d not in allowed list", creds.GID)
}

func (n *Negotiator) requireCreds(src CredentialSource) (Credentials, error) {
	if src == nil {
		return Credentials{}, bap.New(bap.Authentication, "no peer-credential source available")
	}
	creds, err := src.PeerCredentials()
	if err != nil {
		return Credentials{}, bap.Newf(bap.Authentication, "peer credential check: %v", err)
	}
	if !creds.Valid {
		return Credentials{}, bap.New(bap.Authentication, "transport has no peer credentials")
	}
	return creds, nil
}

// safePrefix returns the first n bytes of b (or all of it, if shorter)
// for diagnostics that must never log a full secret.
func safePrefix(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
