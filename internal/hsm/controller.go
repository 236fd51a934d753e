// Package hsm owns the key-lifecycle state machine for the security
// module: which proxy secret is current, whether a superseded secret
// may still sign once, and the persisted record both sides agree on.
// Every transition commits to disk only after the device has accepted
// the corresponding request.
package hsm

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/armord/internal/frame"
	"github.com/chaz8081/armord/internal/store"
)

// Exchanger performs one framed request/response against the device.
type Exchanger interface {
	Exchange(ctx context.Context, body []byte) ([]byte, error)
}

// Controller sequences key-lifecycle operations. Tag and the
// state-bearing operations are serialized: overlapping calls wait on
// the controller's sync.Mutex rather than failing. The mutex does not
// grant the lock in arrival order, so the order in which waiting calls
// proceed is not defined.
type Controller struct {
	engine Exchanger
	store  *store.Store

	mu           sync.Mutex
	rec          *store.Record
	inconsistent bool
}

// NewController creates a controller over the given engine and record
// store.
func NewController(engine Exchanger, st *store.Store) *Controller {
	return &Controller{engine: engine, store: st}
}

// Tag returns the module's opaque identity, loading the record and
// creating a fresh keyless one if absent.
func (c *Controller) Tag(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.rec.Tag...), nil
}

// GenerateKeys asks the device to create its initial key pair, bound
// to a fresh proxy secret. Permitted only in the keyless state.
// Returns the new public key.
func (c *Controller) GenerateKeys(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return nil, err
	}
	if c.rec.State != store.StateKeyless {
		return nil, fmt.Errorf("generateKeys in state %q: %w", c.rec.State, ErrInvalidState)
	}

	key, err := newSecret()
	if err != nil {
		return nil, err
	}
	body, err := frame.Encode(frame.OpGenerateKeys, key)
	if err != nil {
		return nil, err
	}
	publicKey, err := c.engine.Exchange(ctx, body)
	if err != nil {
		zeroize(key)
		return nil, err
	}

	next := c.rec.Clone()
	next.ProxyKey = key
	next.State = store.StateLoneKey
	if err := c.commitLocked(next); err != nil {
		return nil, err
	}
	slog.Info("[HSM] key pair generated", "tag", fmt.Sprintf("%x", c.rec.Tag))
	return publicKey, nil
}

// RotateKeys asks the device to supersede the current key pair with a
// new one. Permitted only in the loneKey state; afterwards the old
// secret remains valid for exactly one more signature. Returns the new
// public key.
func (c *Controller) RotateKeys(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return nil, err
	}
	if c.rec.State != store.StateLoneKey {
		return nil, fmt.Errorf("rotateKeys in state %q: %w", c.rec.State, ErrInvalidState)
	}

	newKey, err := newSecret()
	if err != nil {
		return nil, err
	}
	body, err := frame.Encode(frame.OpRotateKeys, c.rec.ProxyKey, newKey)
	if err != nil {
		return nil, err
	}
	publicKey, err := c.engine.Exchange(ctx, body)
	if err != nil {
		zeroize(newKey)
		return nil, err
	}

	next := c.rec.Clone()
	next.PreviousProxyKey = next.ProxyKey
	next.ProxyKey = newKey
	next.State = store.StateTwoKeys
	if err := c.commitLocked(next); err != nil {
		return nil, err
	}
	slog.Info("[HSM] key pair rotated")
	return publicKey, nil
}

// SignBytes signs the message with the device's private key. After a
// rotation the superseded secret signs exactly once more and is then
// removed; otherwise the current secret signs. Permitted in the
// loneKey and twoKeys states.
func (c *Controller) SignBytes(ctx context.Context, message []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return nil, err
	}
	if c.rec.State != store.StateLoneKey && c.rec.State != store.StateTwoKeys {
		return nil, fmt.Errorf("signBytes in state %q: %w", c.rec.State, ErrInvalidState)
	}

	usePrevious := c.rec.PreviousProxyKey != nil
	signingKey := c.rec.ProxyKey
	if usePrevious {
		signingKey = c.rec.PreviousProxyKey
	}
	body, err := frame.Encode(frame.OpSignBytes, signingKey, message)
	if err != nil {
		return nil, err
	}
	signature, err := c.engine.Exchange(ctx, body)
	if err != nil {
		return nil, err
	}

	if usePrevious {
		prev := c.rec
		next := c.rec.Clone()
		consumed := next.PreviousProxyKey
		next.PreviousProxyKey = nil
		next.State = store.StateLoneKey
		if err := c.commitLocked(next); err != nil {
			return nil, err
		}
		zeroize(consumed)
		zeroize(prev.PreviousProxyKey)
		slog.Debug("[HSM] superseded key consumed")
	}
	return signature, nil
}

// EraseKeys asks the device to destroy its key pair and, on success,
// deletes the persisted record. Always permitted; this is also the
// manual recovery path when the controller has latched an inconsistent
// state.
func (c *Controller) EraseKeys(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := frame.Encode(frame.OpEraseKeys)
	if err != nil {
		return false, err
	}
	resp, err := c.engine.Exchange(ctx, body)
	if err != nil {
		return false, err
	}
	if !frame.AsBool(resp) {
		return false, nil
	}

	if err := c.store.Delete(); err != nil {
		c.inconsistent = true
		return false, fmt.Errorf("device erased but record not removed: %w: %w", ErrInconsistentState, err)
	}
	c.forgetLocked()
	c.inconsistent = false
	slog.Info("[HSM] keys erased")
	return true, nil
}

// DigestBytes returns the device's digest of the message. Stateless.
func (c *Controller) DigestBytes(ctx context.Context, message []byte) ([]byte, error) {
	body, err := frame.Encode(frame.OpDigestBytes, message)
	if err != nil {
		return nil, err
	}
	return c.engine.Exchange(ctx, body)
}

// ValidSignature asks the device whether the signature over the
// message verifies under the public key. Stateless.
func (c *Controller) ValidSignature(ctx context.Context, publicKey, signature, message []byte) (bool, error) {
	body, err := frame.Encode(frame.OpValidSignature, publicKey, signature, message)
	if err != nil {
		return false, err
	}
	resp, err := c.engine.Exchange(ctx, body)
	if err != nil {
		return false, err
	}
	return frame.AsBool(resp), nil
}

// readyLocked rejects state-bearing work while latched, then loads the
// record.
func (c *Controller) readyLocked() error {
	if c.inconsistent {
		return ErrInconsistentState
	}
	return c.loadLocked()
}

// loadLocked makes the record resident, bootstrapping a fresh keyless
// record with a random tag on first use.
func (c *Controller) loadLocked() error {
	if c.rec != nil {
		return nil
	}
	rec, err := c.store.Load()
	if err != nil {
		return err
	}
	if rec == nil {
		tag := make([]byte, store.TagSize)
		if _, err := rand.Read(tag); err != nil {
			return fmt.Errorf("hsm: generating tag: %w", err)
		}
		rec = &store.Record{Tag: tag, State: store.StateKeyless}
		if err := c.store.Store(rec); err != nil {
			return err
		}
		slog.Debug("[HSM] fresh record created", "tag", fmt.Sprintf("%x", tag))
	}
	c.rec = rec
	return nil
}

// commitLocked persists the next record and swaps it in. The device
// has already acted by the time this runs, so a persistence failure
// latches the controller: the two sides disagree and only an erase can
// reconcile them.
func (c *Controller) commitLocked(next *store.Record) error {
	if err := c.store.Store(next); err != nil {
		c.inconsistent = true
		slog.Error("[HSM] state transition not persisted", "error", err)
		return fmt.Errorf("device state changed but record not persisted: %w: %w", ErrInconsistentState, err)
	}
	c.rec = next
	return nil
}

// forgetLocked drops the in-memory record, zeroizing its secrets.
func (c *Controller) forgetLocked() {
	if c.rec == nil {
		return
	}
	zeroize(c.rec.ProxyKey)
	zeroize(c.rec.PreviousProxyKey)
	c.rec = nil
}
