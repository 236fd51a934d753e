package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrPeripheralNotFound means the scan timed out with no peripheral
	// advertising the UART service under the expected name.
	ErrPeripheralNotFound = errors.New("ble: peripheral not found")

	// ErrServiceMissing means the connected peripheral does not expose
	// the UART service.
	ErrServiceMissing = errors.New("ble: UART service missing")

	// ErrCharacteristicsMissing means the UART service is present but
	// lacks the write or notify characteristic.
	ErrCharacteristicsMissing = errors.New("ble: UART characteristics missing")
)

// BlockError is a device-reported rejection of one block: a length-1
// notification carrying a status code greater than 1.
type BlockError struct {
	Code byte
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("ble: device rejected block (status %d)", e.Code)
}

// RequestError means no attempt produced a successful exchange: the
// retry budget was exhausted, or the context was done first. Attempts
// is the number of attempts made; Cause is the failure of the final
// attempt.
type RequestError struct {
	Attempts int
	Cause    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("ble: request failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *RequestError) Unwrap() error { return e.Cause }
