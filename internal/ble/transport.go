package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TransportOptions configures peripheral acquisition.
type TransportOptions struct {
	DeviceName      string        // advertised local name to match (default "ArmorD")
	ScanTimeout     time.Duration // how long to scan before giving up (default 1s)
	ResponseTimeout time.Duration // how long to wait for each block's notification (default 10s)
}

// DefaultTransportOptions returns sensible defaults.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		DeviceName:      "ArmorD",
		ScanTimeout:     time.Second,
		ResponseTimeout: 10 * time.Second,
	}
}

// Transport makes the security module operable for one exchange at a
// time: scan, connect, discover the UART characteristics, subscribe.
// The peripheral handle it returns is single-use.
type Transport struct {
	adapter Adapter
	opts    TransportOptions

	mu      sync.Mutex
	enabled bool
}

// NewTransport creates a transport over the given adapter.
func NewTransport(adapter Adapter, opts TransportOptions) *Transport {
	if opts.DeviceName == "" {
		opts.DeviceName = "ArmorD"
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = time.Second
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = 10 * time.Second
	}
	return &Transport{adapter: adapter, opts: opts}
}

// Acquire scans for the security module, connects, discovers the UART
// write and notify characteristics, and subscribes to notifications.
// The caller must Close the peripheral on every path.
func (t *Transport) Acquire(ctx context.Context) (*Peripheral, error) {
	if err := t.enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	device, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	slog.Debug("[BLE] peripheral found", "name", device.Name, "address", device.Address, "rssi", device.RSSI)

	conn, err := t.adapter.Connect(ctx, device.Address)
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", device.Address, err)
	}

	p, err := newPeripheral(conn, t.opts.ResponseTimeout)
	if err != nil {
		conn.Disconnect()
		return nil, err
	}
	slog.Debug("[BLE] peripheral ready", "address", device.Address)
	return p, nil
}

// enable powers on the adapter once; the underlying stack is a
// process-wide singleton.
func (t *Transport) enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		return nil
	}
	if err := t.adapter.Enable(); err != nil {
		return err
	}
	t.enabled = true
	return nil
}

// scan looks for the first peripheral advertising the UART service
// under the expected name, stopping the scan on the first match.
func (t *Transport) scan(ctx context.Context) (Device, error) {
	scanCtx, cancel := context.WithTimeout(ctx, t.opts.ScanTimeout)
	defer cancel()

	var match Device
	matched := false
	err := t.adapter.Scan(scanCtx, ServiceUUID, func(d Device) bool {
		if d.Name != t.opts.DeviceName {
			return false
		}
		match = d
		matched = true
		return true
	})
	if matched {
		return match, nil
	}
	if err != nil && scanCtx.Err() == nil {
		return Device{}, fmt.Errorf("ble: scan: %w", err)
	}
	if ctx.Err() != nil {
		return Device{}, fmt.Errorf("ble: scan: %w", ctx.Err())
	}
	return Device{}, fmt.Errorf("%w: no %q advertising within %s",
		ErrPeripheralNotFound, t.opts.DeviceName, t.opts.ScanTimeout)
}

// ScanForDevices lists every peripheral advertising the UART service
// seen within the timeout. It is a discovery aid; Acquire is the
// operational path.
func ScanForDevices(adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var devices []Device
	err := adapter.Scan(ctx, ServiceUUID, func(d Device) bool {
		devices = append(devices, d)
		return false
	})
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// Peripheral is a connected, subscribed security module, valid for one
// exchange. Writes and notification waits must not overlap.
type Peripheral struct {
	conn            Connection
	write           Characteristic
	notifications   chan []byte
	responseTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func newPeripheral(conn Connection, responseTimeout time.Duration) (*Peripheral, error) {
	write, err := conn.DiscoverCharacteristic(ServiceUUID, WriteCharUUID)
	if err != nil {
		return nil, err
	}
	notify, err := conn.DiscoverCharacteristic(ServiceUUID, NotifyCharUUID)
	if err != nil {
		return nil, err
	}

	p := &Peripheral{
		conn:            conn,
		write:           write,
		notifications:   make(chan []byte, 1),
		responseTimeout: responseTimeout,
	}
	if err := notify.Subscribe(func(data []byte) {
		cp := make([]byte, len(data))
		copy(cp, data)
		select {
		case p.notifications <- cp:
		default:
			slog.Warn("[BLE] dropping unsolicited notification", "len", len(data))
		}
	}); err != nil {
		return nil, fmt.Errorf("ble: subscribe to notifications: %w", err)
	}
	return p, nil
}

// WriteBlock writes one block to the write characteristic and awaits
// exactly one notification, which is the device's response to that
// write.
func (p *Peripheral) WriteBlock(ctx context.Context, block []byte) ([]byte, error) {
	if err := p.write.Write(block); err != nil {
		return nil, fmt.Errorf("ble: write block: %w", err)
	}

	timer := time.NewTimer(p.responseTimeout)
	defer timer.Stop()

	select {
	case resp := <-p.notifications:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: awaiting response: %w", ctx.Err())
	case <-timer.C:
		return nil, errors.New("ble: timed out awaiting block response")
	}
}

// Close disconnects the peripheral. Safe to call more than once.
func (p *Peripheral) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.conn.Disconnect()
		if p.closeErr != nil {
			slog.Warn("[BLE] disconnect failed", "error", p.closeErr)
		}
	})
	return p.closeErr
}
