package serial

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultFrequency is the bitrate used when none (or zero) is given.
const DefaultFrequency = 115200

// StopBits selects the number of stop bits. The zero value leaves the
// driver's current setting untouched.
type StopBits int

const (
	StopBitsDefault StopBits = iota
	StopBitsHalf
	StopBitsOne
	StopBitsOneAndHalf
	StopBitsTwo
)

func (s StopBits) String() string {
	switch s {
	case StopBitsHalf:
		return "0.5"
	case StopBitsOne:
		return "1"
	case StopBitsOneAndHalf:
		return "1.5"
	case StopBitsTwo:
		return "2"
	default:
		return "default"
	}
}

// Parity selects the parity bit. The zero value means no parity.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

func (p Parity) String() string {
	switch p {
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	default:
		return "none"
	}
}

// Pin identifies a physical pin as port and pin number.
type Pin struct {
	Port   uint8
	Number uint8
}

func (p Pin) String() string {
	return fmt.Sprintf("%d.%d", p.Port, p.Number)
}

// PinAssignment maps the UART signals to pins. A nil pin keeps the
// system assignment.
type PinAssignment struct {
	RX *Pin
	TX *Pin
}

// IsZero reports whether no pin is assigned.
func (a PinAssignment) IsZero() bool {
	return a.RX == nil && a.TX == nil
}

// Config holds the line parameters applied by Port.Configure.
type Config struct {
	Port      int
	Frequency int
	Pins      PinAssignment
	StopBits  StopBits
	Parity    Parity
}

// ParsePin parses a pin in "port.pin" form, for example "0.10".
func ParsePin(s string) (Pin, bool) {
	port, number, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return Pin{}, false
	}
	p, err := strconv.ParseUint(port, 10, 8)
	if err != nil {
		return Pin{}, false
	}
	n, err := strconv.ParseUint(number, 10, 8)
	if err != nil {
		return Pin{}, false
	}
	return Pin{Port: uint8(p), Number: uint8(n)}, true
}
