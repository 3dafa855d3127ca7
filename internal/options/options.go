// Package options turns the command line into a serial configuration.
package options

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	serial "github.com/luhtfiimanal/uarttool"
)

// Options holds the raw option strings. They are kept unparsed so that
// Resolve can tell an empty option from one that resolves to a default.
type Options struct {
	Action    string
	Port      string
	Frequency string
	RX        string
	TX        string
	Stop      string
	Parity    string
	Value     string
	Help      string
	Device    string
	Verbose   bool
	Version   bool
}

// Resolution is the configuration derived from Options.
type Resolution struct {
	Config serial.Config
	// AllDefaults is set when none of frequency, rx, tx, stop and parity
	// were given, in which case the driver's own settings are kept.
	AllDefaults bool
	Device      string
}

// NewFlagSet defines the tool's flags on a new FlagSet bound to o. Parse
// errors are returned, never acted on.
func NewFlagSet(name string, o *Options, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.SortFlags = false
	fs.Usage = func() {}

	fs.StringVar(&o.Action, "action", "", "specify the action bridge|write")
	fs.StringVar(&o.Port, "port", "", "the UART port number to use 0|1|2...")
	fs.StringVar(&o.Frequency, "frequency", "", "specify the bitrate in Hz (default is 115200)")
	fs.StringVar(&o.RX, "rx", "", "specify the RX pin as port.pin (default is to use system value)")
	fs.StringVar(&o.TX, "tx", "", "specify the TX pin as port.pin (default is to use system value)")
	fs.StringVar(&o.Stop, "stop", "", "specify the number of stop bits as 0.5|1|1.5|2 (default is 1)")
	fs.StringVar(&o.Parity, "parity", "", "specify the parity as none|odd|even (default is none)")
	fs.StringVar(&o.Value, "value", "", "specify a string when writing to the UART")
	fs.StringVar(&o.Device, "device", "", "tty device to open (default is /dev/ttyS<port>)")
	fs.StringVar(&o.Help, "help", "", "show this help")
	fs.Lookup("help").NoOptDefVal = "true"
	fs.BoolVar(&o.Verbose, "verbose", false, "log debug diagnostics to stderr")
	fs.BoolVar(&o.Version, "version", false, "print the version and exit")

	return fs
}

// Parse parses args (without the program name).
func Parse(name string, args []string, out io.Writer) (Options, *pflag.FlagSet, error) {
	var o Options
	fs := NewFlagSet(name, &o, out)
	if err := fs.Parse(args); err != nil {
		return o, fs, err
	}
	if fs.NArg() > 0 {
		return o, fs, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return o, fs, nil
}

// HelpRequested reports whether --help=true was given.
func (o Options) HelpRequested() bool {
	return o.Help == "true"
}

// Resolve maps the raw options onto a serial configuration. Malformed
// values fall back to defaults instead of failing.
func Resolve(o Options) Resolution {
	var cfg serial.Config

	if o.RX != "" {
		if pin, ok := serial.ParsePin(o.RX); ok {
			cfg.Pins.RX = &pin
		}
	}
	if o.TX != "" {
		if pin, ok := serial.ParsePin(o.TX); ok {
			cfg.Pins.TX = &pin
		}
	}

	cfg.Frequency = toInteger(o.Frequency)
	if cfg.Frequency <= 0 {
		cfg.Frequency = serial.DefaultFrequency
	}

	switch o.Stop {
	case "0.5":
		cfg.StopBits = serial.StopBitsHalf
	case "1":
		cfg.StopBits = serial.StopBitsOne
	case "1.5":
		cfg.StopBits = serial.StopBitsOneAndHalf
	case "2":
		cfg.StopBits = serial.StopBitsTwo
	}

	switch o.Parity {
	case "even":
		cfg.Parity = serial.ParityEven
	case "odd":
		cfg.Parity = serial.ParityOdd
	}

	cfg.Port = toInteger(o.Port)
	if cfg.Port < 0 {
		cfg.Port = 0
	}

	device := o.Device
	if device == "" {
		device = DevicePath(cfg.Port)
	}

	return Resolution{
		Config: cfg,
		// Raw strings on purpose: an explicit frequency is not "defaults"
		// even though an empty one resolves to the same value.
		AllDefaults: o.Frequency == "" && o.RX == "" && o.TX == "" && o.Stop == "" && o.Parity == "",
		Device:      device,
	}
}

// DevicePath returns the tty device for a UART port index.
func DevicePath(port int) string {
	return fmt.Sprintf("/dev/ttyS%d", port)
}

// toInteger parses like atoi: optional sign, then leading digits. Anything
// unparseable is 0.
func toInteger(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	n := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > 1<<31-1 {
			return 0
		}
	}
	if neg {
		return -n
	}
	return n
}
