// Package ble drives one request/response exchange against an ArmorD
// hardware security module over Bluetooth Low Energy. It handles
// peripheral discovery, the UART service connection lifecycle, and
// block-level transmission with bounded retry.
package ble

import "context"

// ArmorD UART service UUIDs (Nordic UART layout).
const (
	ServiceUUID    = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	WriteCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	NotifyCharUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	// A missing service reports ErrServiceMissing; a present service without
	// the characteristic reports ErrCharacteristicsMissing.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the BLE hardware adapter for testing. The
// underlying stack is process-wide; callers must not overlap scans.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports peripherals advertising the given service UUID to
	// found until found returns true, the scan fails, or ctx is done.
	Scan(ctx context.Context, serviceUUID string, found func(Device) (stop bool)) error
	// Connect establishes a connection to the device at the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
