// Some diode engravers ship with a BLE serial bridge exposing the Nordic UART
// service instead of (or as well as) a USB serial port. This file adapts that
// to a Port so a session can't tell the difference.

package grbl

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

type uartCharacteristic byte

const (
	uartService uartCharacteristic = 0x01
	uartRX      uartCharacteristic = 0x02
	uartTX      uartCharacteristic = 0x03
)

// 6E40000x-B5A3-F393-E0A9-E50E24DCCA9E
func getUUID(c uartCharacteristic) bluetooth.UUID {
	return bluetooth.NewUUID([16]byte{
		0x6e, 0x40, 0x00, byte(c), 0xb5, 0xa3, 0xf3, 0x93, 0xe0, 0xa9, 0xe5, 0x0e, 0x24, 0xdc, 0xca, 0x9e,
	})
}

const (
	scanTimeout = 10 * time.Second
	// default BLE MTU of 23 less the ATT header
	blePayload = 20
)

// offer hands v over if there is room for it. A scan can match again before
// it stops, or after the caller has given up waiting.
func offer[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}

type bluetoothPort struct {
	device bluetooth.Device
	rx     bluetooth.DeviceCharacteristic

	mu       sync.Mutex
	incoming []byte
	signal   chan struct{}
	timeout  time.Duration
	closed   chan struct{}
	once     sync.Once
}

// OpenBluetooth scans for a BLE device advertising the given local name and
// connects to its UART service. The baud rate is ignored.
func OpenBluetooth(name string, _ int) (Port, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: Couldn't enable Bluetooth:\n%w", ErrPortUnavailable, err)
	}

	devices := make(chan bluetooth.ScanResult, 1)
	go func() {
		err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if result.LocalName() == name {
				slog.Info("Found device", "deviceName", result.LocalName())
				offer(devices, result)
				adapter.StopScan()
			}
		})
		if err != nil {
			slog.Error("Failed to scan for devices", "err", err)
			close(devices)
		}
	}()

	var result bluetooth.ScanResult
	select {
	case dev, ok := <-devices:
		if !ok {
			return nil, fmt.Errorf("%w: Scan for %s failed", ErrPortUnavailable, name)
		}
		result = dev
	case <-time.After(scanTimeout):
		adapter.StopScan()
		return nil, fmt.Errorf("%w: No device named %s found", ErrPortUnavailable, name)
	}

	slog.Debug("Connecting to device...", "address", result.Address.String())
	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("%w: Couldn't connect to %s:\n%w", ErrPortUnavailable, name, err)
	}

	port, err := newBluetoothPort(device)
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("%w: %s has no usable UART service:\n%w", ErrPortUnavailable, name, err)
	}
	return port, nil
}

func newBluetoothPort(device bluetooth.Device) (*bluetoothPort, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{getUUID(uartService)})
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, errors.New("UART service not found")
	}

	characteristics, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{getUUID(uartRX), getUUID(uartTX)})
	if err != nil {
		return nil, err
	}
	if len(characteristics) < 2 {
		return nil, errors.New("UART characteristics not found")
	}

	p := &bluetoothPort{
		device:  device,
		rx:      characteristics[0],
		signal:  make(chan struct{}, 1),
		timeout: 100 * time.Millisecond,
		closed:  make(chan struct{}),
	}

	// the controller's replies arrive as notifications on TX
	err = characteristics[1].EnableNotifications(func(data []byte) {
		p.mu.Lock()
		p.incoming = append(p.incoming, data...)
		p.mu.Unlock()
		select {
		case p.signal <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *bluetoothPort) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if len(p.incoming) > 0 {
			n := copy(b, p.incoming)
			p.incoming = p.incoming[n:]
			p.mu.Unlock()
			return n, nil
		}
		timeout := p.timeout
		p.mu.Unlock()

		select {
		case <-p.signal:
		case <-p.closed:
			return 0, io.EOF
		case <-time.After(timeout):
			return 0, nil
		}
	}
}

func (p *bluetoothPort) Write(b []byte) (int, error) {
	written := 0
	for len(b) > 0 {
		n := min(len(b), blePayload)
		if _, err := p.rx.WriteWithoutResponse(b[:n]); err != nil {
			return written, err
		}
		written += n
		b = b[n:]
	}
	slog.Debug("Wrote data to device", "size", written)
	return written, nil
}

func (p *bluetoothPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.incoming = nil
	return nil
}

func (p *bluetoothPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *bluetoothPort) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)
		err = p.device.Disconnect()
	})
	return err
}

// Transport names accepted by OpenerFor.
const (
	TransportSerial    = "serial"
	TransportBluetooth = "bluetooth"
)

// OpenerFor returns the Opener for a transport name.
func OpenerFor(transport string) (Opener, error) {
	switch transport {
	case "", TransportSerial:
		return OpenSerial, nil
	case TransportBluetooth:
		return OpenBluetooth, nil
	default:
		return nil, fmt.Errorf("Unknown transport %q", transport)
	}
}
