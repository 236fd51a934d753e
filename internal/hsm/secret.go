package hsm

import (
	"crypto/rand"
	"fmt"
	"runtime"

	"github.com/chaz8081/armord/internal/store"
)

// newSecret generates a fresh proxy secret: 32 random bytes the device
// binds to a key pair and requires on every privileged request.
func newSecret() ([]byte, error) {
	key := make([]byte, store.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("hsm: generating proxy secret: %w", err)
	}
	return key, nil
}

// zeroize overwrites a secret with zeros once it leaves the record.
// Go's garbage collector gives no timing guarantee, so secrets are
// cleared explicitly as soon as they are no longer needed.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
