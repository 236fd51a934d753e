package ble

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func testTransportOptions() TransportOptions {
	return TransportOptions{
		DeviceName:      "ArmorD",
		ScanTimeout:     100 * time.Millisecond,
		ResponseTimeout: 100 * time.Millisecond,
	}
}

func TestAcquireFindsNamedPeripheral(t *testing.T) {
	adapter := newMockAdapter(armordDevice())
	transport := NewTransport(adapter, testTransportOptions())

	p, err := transport.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer p.Close()

	if len(adapter.connections()) != 1 {
		t.Errorf("Acquire() made %d connections, want 1", len(adapter.connections()))
	}
}

func TestAcquireSkipsWrongName(t *testing.T) {
	adapter := newMockAdapter([]Device{
		{Name: "SomeOtherDevice", Address: "11:11:11:11:11:11", RSSI: -50},
	})
	transport := NewTransport(adapter, testTransportOptions())

	_, err := transport.Acquire(context.Background())
	if !errors.Is(err, ErrPeripheralNotFound) {
		t.Errorf("Acquire() error = %v, want ErrPeripheralNotFound", err)
	}
	if len(adapter.connections()) != 0 {
		t.Error("Acquire() connected despite no matching peripheral")
	}
}

func TestAcquireEmptyScan(t *testing.T) {
	adapter := newMockAdapter(nil)
	transport := NewTransport(adapter, testTransportOptions())

	_, err := transport.Acquire(context.Background())
	if !errors.Is(err, ErrPeripheralNotFound) {
		t.Errorf("Acquire() error = %v, want ErrPeripheralNotFound", err)
	}
}

func TestAcquireDisconnectsOnMissingCharacteristic(t *testing.T) {
	adapter := newMockAdapter(armordDevice())
	adapter.misfit = func(conn *mockConnection) { conn.missingNotify = true }
	transport := NewTransport(adapter, testTransportOptions())

	_, err := transport.Acquire(context.Background())
	if !errors.Is(err, ErrCharacteristicsMissing) {
		t.Fatalf("Acquire() error = %v, want ErrCharacteristicsMissing", err)
	}

	conns := adapter.connections()
	if len(conns) != 1 || !conns[0].isDisconnected() {
		t.Error("failed acquisition must disconnect the peripheral")
	}
}

func TestAcquireReportsMissingService(t *testing.T) {
	adapter := newMockAdapter(armordDevice())
	adapter.misfit = func(conn *mockConnection) { conn.missingSvc = true }
	transport := NewTransport(adapter, testTransportOptions())

	_, err := transport.Acquire(context.Background())
	if !errors.Is(err, ErrServiceMissing) {
		t.Errorf("Acquire() error = %v, want ErrServiceMissing", err)
	}
}

func TestWriteBlockReturnsNotification(t *testing.T) {
	adapter := newMockAdapter(armordDevice())
	adapter.respond = func(_ int, block []byte) []byte {
		return append([]byte{0xee}, block[0])
	}
	transport := NewTransport(adapter, testTransportOptions())

	p, err := transport.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer p.Close()

	resp, err := p.WriteBlock(context.Background(), []byte{0x42, 0x00})
	if err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	if !bytes.Equal(resp, []byte{0xee, 0x42}) {
		t.Errorf("WriteBlock() = % x, want ee 42", resp)
	}
}

func TestWriteBlockTimesOutWithoutNotification(t *testing.T) {
	adapter := newMockAdapter(armordDevice())
	transport := NewTransport(adapter, testTransportOptions())

	p, err := transport.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer p.Close()

	if _, err := p.WriteBlock(context.Background(), []byte{0x42, 0x00}); err == nil {
		t.Error("WriteBlock() with a silent module should time out")
	}
}

func TestWriteBlockHonorsCancellation(t *testing.T) {
	adapter := newMockAdapter(armordDevice())
	opts := testTransportOptions()
	opts.ResponseTimeout = 10 * time.Second
	transport := NewTransport(adapter, opts)

	p, err := transport.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.WriteBlock(ctx, []byte{0x42, 0x00}); !errors.Is(err, context.Canceled) {
		t.Errorf("WriteBlock() error = %v, want context.Canceled", err)
	}
}

func TestCloseDisconnects(t *testing.T) {
	adapter := newMockAdapter(armordDevice())
	transport := NewTransport(adapter, testTransportOptions())

	p, err := transport.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if !adapter.connections()[0].isDisconnected() {
		t.Error("Close() did not disconnect the peripheral")
	}
}

func TestScanForDevicesListsAll(t *testing.T) {
	adapter := newMockAdapter([]Device{
		{Name: "ArmorD", Address: "AA:AA:AA:AA:AA:AA", RSSI: -40},
		{Name: "Other", Address: "BB:BB:BB:BB:BB:BB", RSSI: -70},
	})
	devices, err := ScanForDevices(adapter, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("ScanForDevices() = %d devices, want 2", len(devices))
	}
}
