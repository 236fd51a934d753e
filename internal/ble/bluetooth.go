package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// BluetoothAdapter wraps tinygo-org/bluetooth, the production BLE
// stack. On macOS, device addresses are CoreBluetooth UUIDs rather
// than MAC addresses; the Address field of Device carries whichever
// form the platform uses.
type BluetoothAdapter struct {
	adapter *bluetooth.Adapter

	// mu serializes scans; the underlying stack supports one at a time.
	mu sync.Mutex
}

// NewBluetoothAdapter creates an adapter over the platform's default
// Bluetooth stack.
func NewBluetoothAdapter() *BluetoothAdapter {
	return &BluetoothAdapter{adapter: bluetooth.DefaultAdapter}
}

func (a *BluetoothAdapter) Enable() error {
	return a.adapter.Enable()
}

func (a *BluetoothAdapter) Scan(ctx context.Context, serviceUUID string, found func(Device) bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("ble: parse service UUID: %w", err)
	}

	var seenMu sync.Mutex
	seen := make(map[string]bool)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		addr := result.Address.String()
		seenMu.Lock()
		dup := seen[addr]
		seen[addr] = true
		seenMu.Unlock()
		if dup {
			return
		}
		if found(Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		}) {
			adapter.StopScan()
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *BluetoothAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect will eventually time out or succeed;
		// it cannot be cancelled from here.
		return nil, ctx.Err()
	case result := <-ch:
		if result.err != nil {
			return nil, result.err
		}
		return &bluetoothConnection{device: result.device}, nil
	}
}

// Compile-time check that BluetoothAdapter implements Adapter.
var _ Adapter = (*BluetoothAdapter)(nil)

type bluetoothConnection struct {
	device bluetooth.Device
}

func (c *bluetoothConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("%w: discover services: %v", ErrServiceMissing, err)
	}
	if len(svcs) != 1 {
		return nil, fmt.Errorf("%w: found %d instances of %s", ErrServiceMissing, len(svcs), serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("%w: discover characteristics: %v", ErrCharacteristicsMissing, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicsMissing, charUUID)
	}

	return &bluetoothCharacteristic{char: &chars[0]}, nil
}

func (c *bluetoothConnection) Disconnect() error {
	return c.device.Disconnect()
}

type bluetoothCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *bluetoothCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *bluetoothCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
