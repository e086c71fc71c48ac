package serialmux

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// SerialPorter is the part of a serial port the mux uses. go.bug.st/serial
// ports, pipes and test doubles all satisfy it.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// DefaultBaudRate is the line speed of the BLE receiver dongle.
const DefaultBaudRate = 115200

// DefaultFraming is the receiver's character framing: 8 data bits, no
// parity, 1 stop bit.
const DefaultFraming = "8N1"

// PortOptions describes the serial connection to the receiver. Zero values
// take the receiver's defaults.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// ParsePortOptions builds options from a baud rate and a framing string
// such as "8N1" or "7E2". An empty framing means DefaultFraming.
func ParsePortOptions(baud int, framing string) (PortOptions, error) {
	framing = strings.ToUpper(strings.TrimSpace(framing))
	if framing == "" {
		framing = DefaultFraming
	}
	if len(framing) != 3 {
		return PortOptions{}, fmt.Errorf("invalid framing %q: want data bits, parity and stop bits like 8N1", framing)
	}
	dataBits, err1 := strconv.Atoi(framing[:1])
	stopBits, err2 := strconv.Atoi(framing[2:])
	if err1 != nil || err2 != nil {
		return PortOptions{}, fmt.Errorf("invalid framing %q: want data bits, parity and stop bits like 8N1", framing)
	}
	return PortOptions{
		BaudRate: baud,
		DataBits: dataBits,
		StopBits: stopBits,
		Parity:   framing[1:2],
	}.Normalize()
}

// Normalize validates the options and fills in defaults.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}

	switch p := strings.ToUpper(strings.TrimSpace(o.Parity)); p {
	case "", "N", "NONE":
		o.Parity = "N"
	case "E", "EVEN":
		o.Parity = "E"
	case "O", "ODD":
		o.Parity = "O"
	default:
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return o, nil
}

// String renders normalized options as "115200 8N1".
func (o PortOptions) String() string {
	n, err := o.Normalize()
	if err != nil {
		return "invalid"
	}
	return fmt.Sprintf("%d %d%s%d", n.BaudRate, n.DataBits, n.Parity, n.StopBits)
}

// SerialMode converts the options into the go.bug.st/serial mode used to
// open the port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if n.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch n.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}
