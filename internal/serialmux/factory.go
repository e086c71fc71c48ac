package serialmux

import (
	"go.bug.st/serial"
)

// Opener opens the receiver port. OpenSerial is the real one; tests pass
// their own.
type Opener func(path string, mode *serial.Mode) (SerialPorter, error)

// OpenSerial opens path with go.bug.st/serial.
func OpenSerial(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}

// NewRealSerialMux opens the receiver at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(OpenSerial, path, opts)
}

// OpenSerialMux validates opts, opens path through open and wraps the port
// in a mux. Invalid options never reach open.
func OpenSerialMux(open Opener, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, err
	}
	return NewSerialMux[SerialPorter](port), nil
}
