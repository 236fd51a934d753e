package hsm

import "errors"

var (
	// ErrInvalidState means the operation is not permitted in the
	// current key-lifecycle state. The device is not contacted.
	ErrInvalidState = errors.New("hsm: operation not permitted in current key state")

	// ErrInconsistentState means the device acted but the record could
	// not be persisted. State-bearing operations are refused until the
	// keys are erased.
	ErrInconsistentState = errors.New("hsm: device and persisted key state disagree; erase keys to recover")
)
