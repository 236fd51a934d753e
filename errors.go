package armord

import (
	"github.com/chaz8081/armord/internal/ble"
	"github.com/chaz8081/armord/internal/hsm"
)

// The error kinds a Proxy surfaces, re-exported for errors.Is checks
// by callers.
var (
	// ErrInvalidState: the operation is not permitted in the current
	// key-lifecycle state; the module was not contacted.
	ErrInvalidState = hsm.ErrInvalidState

	// ErrInconsistentState: the module acted but the host record could
	// not be persisted. State-bearing operations are refused until
	// EraseKeys succeeds.
	ErrInconsistentState = hsm.ErrInconsistentState

	// ErrPeripheralNotFound: no module was advertising within the scan
	// budget.
	ErrPeripheralNotFound = ble.ErrPeripheralNotFound

	// ErrServiceMissing, ErrCharacteristicsMissing: the connected
	// peripheral does not expose the expected UART GATT layout.
	ErrServiceMissing         = ble.ErrServiceMissing
	ErrCharacteristicsMissing = ble.ErrCharacteristicsMissing
)
