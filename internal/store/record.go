// Package store persists the proxy's key-lifecycle record: one small
// YAML document per proxy instance, replaced atomically on every state
// transition. The on-disk record is the single source of truth for
// which key is current and whether a superseded key may still sign
// once.
package store

import (
	"encoding/hex"
	"fmt"
)

// State is the key-lifecycle state recorded for the security module.
type State string

const (
	// StateKeyless means no key pair exists.
	StateKeyless State = "keyless"
	// StateLoneKey means exactly one key pair is active.
	StateLoneKey State = "loneKey"
	// StateTwoKeys means a rotation is pending: the superseded key may
	// sign exactly once more.
	StateTwoKeys State = "twoKeys"
)

const (
	// TagSize is the size of the module's opaque identity in bytes.
	TagSize = 16
	// KeySize is the size of a proxy secret in bytes.
	KeySize = 32
)

// Record is the persisted configuration for one security module.
type Record struct {
	Tag              []byte // assigned on first load, never mutated
	State            State
	ProxyKey         []byte // present unless keyless
	PreviousProxyKey []byte // present only in the twoKeys state
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := &Record{State: r.State}
	cp.Tag = append([]byte(nil), r.Tag...)
	if r.ProxyKey != nil {
		cp.ProxyKey = append([]byte(nil), r.ProxyKey...)
	}
	if r.PreviousProxyKey != nil {
		cp.PreviousProxyKey = append([]byte(nil), r.PreviousProxyKey...)
	}
	return cp
}

// Validate checks the structural invariants tying state to key
// presence.
func (r *Record) Validate() error {
	if len(r.Tag) != TagSize {
		return fmt.Errorf("store: tag must be %d bytes, got %d", TagSize, len(r.Tag))
	}
	switch r.State {
	case StateKeyless:
		if r.ProxyKey != nil || r.PreviousProxyKey != nil {
			return fmt.Errorf("store: keyless record carries keys")
		}
	case StateLoneKey:
		if len(r.ProxyKey) != KeySize {
			return fmt.Errorf("store: loneKey record needs a %d-byte proxy key", KeySize)
		}
		if r.PreviousProxyKey != nil {
			return fmt.Errorf("store: loneKey record carries a previous key")
		}
	case StateTwoKeys:
		if len(r.ProxyKey) != KeySize || len(r.PreviousProxyKey) != KeySize {
			return fmt.Errorf("store: twoKeys record needs two %d-byte keys", KeySize)
		}
	default:
		return fmt.Errorf("store: unknown state %q", r.State)
	}
	return nil
}

// recordFile is the on-disk YAML shape; byte fields are hex-encoded.
type recordFile struct {
	Tag              string `yaml:"tag"`
	State            string `yaml:"state"`
	ProxyKey         string `yaml:"proxyKey,omitempty"`
	PreviousProxyKey string `yaml:"previousProxyKey,omitempty"`
}

func (r *Record) toFile() recordFile {
	rf := recordFile{
		Tag:   hex.EncodeToString(r.Tag),
		State: string(r.State),
	}
	if r.ProxyKey != nil {
		rf.ProxyKey = hex.EncodeToString(r.ProxyKey)
	}
	if r.PreviousProxyKey != nil {
		rf.PreviousProxyKey = hex.EncodeToString(r.PreviousProxyKey)
	}
	return rf
}

func (rf recordFile) toRecord() (*Record, error) {
	rec := &Record{State: State(rf.State)}
	var err error
	if rec.Tag, err = hex.DecodeString(rf.Tag); err != nil {
		return nil, fmt.Errorf("store: decoding tag: %w", err)
	}
	if rf.ProxyKey != "" {
		if rec.ProxyKey, err = hex.DecodeString(rf.ProxyKey); err != nil {
			return nil, fmt.Errorf("store: decoding proxy key: %w", err)
		}
	}
	if rf.PreviousProxyKey != "" {
		if rec.PreviousProxyKey, err = hex.DecodeString(rf.PreviousProxyKey); err != nil {
			return nil, fmt.Errorf("store: decoding previous proxy key: %w", err)
		}
	}
	return rec, nil
}
