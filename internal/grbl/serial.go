package grbl

import (
	"fmt"

	"go.bug.st/serial"
)

const DefaultBaud = 115200

// OpenSerial opens a serial port at 8N1 with the given baud rate.
func OpenSerial(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: Couldn't open %s:\n%w", ErrPortUnavailable, name, err)
	}
	return p, nil
}

// ListPorts lists the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("Couldn't list serial ports:\n%w", err)
	}
	return ports, nil
}
