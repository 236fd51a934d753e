// Package armord is a host-side proxy to an ArmorD hardware security
// module reachable over Bluetooth Low Energy. The module holds the
// private signing key; the host never sees it. The proxy exposes key
// generation, rotation and erasure, message digesting, signing, and
// signature verification, and keeps a persistent record of which proxy
// secret is bound to the current key pair.
//
// The module digests with SHA-512 and signs with Ed25519.
package armord

import (
	"context"
	"encoding/hex"

	"github.com/chaz8081/armord/internal/ble"
	"github.com/chaz8081/armord/internal/config"
	"github.com/chaz8081/armord/internal/hsm"
	"github.com/chaz8081/armord/internal/store"
)

// Protocol is the version of the request protocol spoken to the
// module. It is part of the record file name, so formats never collide
// across protocol versions.
const Protocol = "v2"

// Proxy is the public face of the security module. One Proxy owns one
// module; operations are serialized internally.
type Proxy struct {
	ctrl *hsm.Controller
}

// New creates a proxy for the configured security module, using the
// platform Bluetooth stack.
func New(cfg *config.Config) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := ble.DefaultTransportOptions()
	opts.DeviceName = cfg.DeviceName
	opts.ScanTimeout = cfg.ScanTimeout()
	transport := ble.NewTransport(ble.NewBluetoothAdapter(), opts)
	engine := ble.NewEngine(transport, cfg.MaxAttempts)
	st := store.New(cfg.Directory, Protocol)
	return &Proxy{ctrl: hsm.NewController(engine, st)}, nil
}

// GetProtocol returns the protocol version string.
func (p *Proxy) GetProtocol() string { return Protocol }

// GetTag returns the module's opaque identity as a hex string, loading
// the persisted record and creating a fresh one if absent.
func (p *Proxy) GetTag(ctx context.Context) (string, error) {
	tag, err := p.ctrl.Tag(ctx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(tag), nil
}

// GenerateKeys creates the module's initial key pair and returns the
// public key. Fails unless the module is keyless.
func (p *Proxy) GenerateKeys(ctx context.Context) ([]byte, error) {
	return p.ctrl.GenerateKeys(ctx)
}

// RotateKeys supersedes the current key pair and returns the new
// public key. The old key remains valid for exactly one more
// signature, so a certificate for the new key can be signed by the old
// identity.
func (p *Proxy) RotateKeys(ctx context.Context) ([]byte, error) {
	return p.ctrl.RotateKeys(ctx)
}

// EraseKeys destroys the module's key pair and removes the persisted
// record.
func (p *Proxy) EraseKeys(ctx context.Context) (bool, error) {
	return p.ctrl.EraseKeys(ctx)
}

// DigestBytes returns the SHA-512 digest of the message, computed by
// the module.
func (p *Proxy) DigestBytes(ctx context.Context, message []byte) ([]byte, error) {
	return p.ctrl.DigestBytes(ctx, message)
}

// SignBytes signs the message with the module's private key. The first
// signature after a rotation is made by the superseded key, which is
// then retired.
func (p *Proxy) SignBytes(ctx context.Context, message []byte) ([]byte, error) {
	return p.ctrl.SignBytes(ctx, message)
}

// ValidSignature reports whether the signature over the message
// verifies under the given public key.
func (p *Proxy) ValidSignature(ctx context.Context, publicKey, signature, message []byte) (bool, error) {
	return p.ctrl.ValidSignature(ctx, publicKey, signature, message)
}

func (p *Proxy) String() string {
	return "ArmorD proxy " + Protocol + " (SHA-512 digests, Ed25519 signatures)"
}
