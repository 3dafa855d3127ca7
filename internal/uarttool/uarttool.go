// Package uarttool implements the command: it opens and configures a UART,
// runs the requested action and closes the port again.
package uarttool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	bugst "go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	serial "github.com/luhtfiimanal/uarttool"
	"github.com/luhtfiimanal/uarttool/internal/bridge"
	"github.com/luhtfiimanal/uarttool/internal/logging"
	"github.com/luhtfiimanal/uarttool/internal/options"
)

const (
	ActionBridge = "bridge"
	ActionWrite  = "write"
)

// Device is an opened serial port.
type Device interface {
	bridge.Port
	ConfigureDefaults() error
	Configure(cfg serial.Config) error
	Close() error
}

// Tool runs one invocation of the command.
type Tool struct {
	Name    string
	Version string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Open opens a device path for reading and writing.
	Open func(device string) (Device, error)
	// ListPorts lists serial ports for the usage text. Optional.
	ListPorts func() ([]string, error)
}

// New returns a Tool wired to the process's stdio and real serial ports.
func New(name, version string) *Tool {
	return &Tool{
		Name:      name,
		Version:   version,
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		Open:      OpenSerial,
		ListPorts: bugst.GetPortsList,
	}
}

// OpenSerial opens device with the Linux serial backend.
func OpenSerial(device string) (Device, error) {
	port, err := serial.Open(device)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Run executes the command for args (without the program name) and
// returns the process exit code.
func (t *Tool) Run(ctx context.Context, args []string) int {
	o, fs, err := options.Parse(t.Name, args, t.Stderr)
	if err != nil {
		fmt.Fprintf(t.Stdout, "error: %v\n", err)
		t.usage(fs, zap.NewNop())
		return 1
	}

	log := logging.New(t.Stderr, o.Verbose).Named(t.Name)
	defer func() { _ = log.Sync() }()

	if o.Version {
		fmt.Fprintf(t.Stdout, "%s version %s\n", t.Name, t.Version)
		return 0
	}
	if o.HelpRequested() {
		t.usage(fs, log)
		return 1
	}

	res := options.Resolve(o)
	log = log.With(zap.String("device", res.Device), zap.Int("port", res.Config.Port))

	dev, err := t.Open(res.Device)
	if err != nil {
		fmt.Fprintf(t.Stdout, "%s>Failed to open UART port %d\n", t.Name, res.Config.Port)
		fmt.Fprintf(t.Stdout, "Failed: %v\n", err)
		log.Debug("open failed", zap.Error(err))
		return 1
	}
	log.Debug("port opened")

	code := t.session(ctx, o, fs, res, dev, log)

	if code == 0 {
		fmt.Fprintf(t.Stdout, "%s>Closing UART\n", t.Name)
	}
	if err := dev.Close(); err != nil {
		log.Warn("close failed", zap.Error(err))
	}
	if code == 0 {
		fmt.Fprintf(t.Stdout, "%s>Exiting\n", t.Name)
	}
	return code
}

func (t *Tool) session(ctx context.Context, o options.Options, fs *pflag.FlagSet, res options.Resolution, dev Device, log *zap.Logger) int {
	if err := t.configure(dev, res, log); err != nil {
		return 1
	}

	switch o.Action {
	case ActionBridge:
		b := &bridge.Bridge{
			Name:   t.Name,
			Port:   dev,
			Stdin:  t.Stdin,
			Stdout: t.Stdout,
			Logger: log.Named("bridge"),
		}
		if err := b.Run(ctx); err != nil {
			log.Warn("bridge ended", zap.Error(err))
		}

	case ActionWrite:
		if o.Value == "" {
			fmt.Fprintf(t.Stdout, "error: specify value with --value=<string>\n")
			t.usage(fs, log)
			return 1
		}
		n, err := dev.Write([]byte(o.Value))
		if err != nil {
			fmt.Fprintf(t.Stdout, "error: failed to write %s to uart\n", o.Value)
			log.Warn("write failed", zap.Error(err), zap.Int("bytes_written", n))
		} else {
			log.Debug("value written", zap.Int("bytes_written", n))
		}

	default:
		fmt.Fprintf(t.Stdout, "error: action must be specified using --action=[bridge|write]\n")
		t.usage(fs, log)
		return 1
	}
	return 0
}

func (t *Tool) configure(dev Device, res options.Resolution, log *zap.Logger) error {
	port := res.Config.Port

	if res.AllDefaults {
		fmt.Fprintf(t.Stdout, "%s>Starting UART probe on port %d with default system settings\n", t.Name, port)
		if err := dev.ConfigureDefaults(); err != nil {
			fmt.Fprintf(t.Stdout, "%s>UART Failed to init with BSP settings %d (%v)\n", t.Name, errno(err), err)
			log.Debug("configure defaults failed", zap.Error(err))
			return err
		}
		return nil
	}

	cfg := res.Config
	fmt.Fprintf(t.Stdout, "%s>Starting UART probe on port %d at %dbps\n", t.Name, port, cfg.Frequency)
	if !cfg.Pins.IsZero() {
		log.Warn("pin assignment is not supported by tty devices, ignoring",
			zap.String("rx", pinString(cfg.Pins.RX)),
			zap.String("tx", pinString(cfg.Pins.TX)),
		)
	}
	if err := dev.Configure(cfg); err != nil {
		fmt.Fprintf(t.Stdout, "%s>UART Failed to init with user settings %d (%v)\n", t.Name, errno(err), err)
		log.Debug("configure failed", zap.Error(err),
			zap.Int("frequency", cfg.Frequency),
			zap.Stringer("stop_bits", cfg.StopBits),
			zap.Stringer("parity", cfg.Parity),
		)
		return err
	}
	return nil
}

func (t *Tool) usage(fs *pflag.FlagSet, log *zap.Logger) {
	w := t.Stdout
	fmt.Fprintf(w, "Usage: %s --port=<port> --action=<action> [options]\n", t.Name)
	fmt.Fprintf(w, "Examples:\n")
	fmt.Fprintf(w, "- Bridge UART to stdio using system settings: %s --port=0 --action=bridge\n", t.Name)
	fmt.Fprintf(w, "- Write a string to the UART: %s --port=0 --action=write --value=Hello\n", t.Name)
	if fs != nil {
		fmt.Fprintf(w, "Options:\n%s", fs.FlagUsages())
	}

	if t.ListPorts == nil {
		return
	}
	ports, err := t.ListPorts()
	if err != nil {
		log.Debug("list ports", zap.Error(err))
		return
	}
	if len(ports) > 0 {
		fmt.Fprintf(w, "Detected ports:\n")
		for _, p := range ports {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
}

// errno extracts the OS error number from err, or 0.
func errno(err error) int {
	var e unix.Errno
	if errors.As(err, &e) {
		return int(e)
	}
	return 0
}

func pinString(p *serial.Pin) string {
	if p == nil {
		return "default"
	}
	return p.String()
}
