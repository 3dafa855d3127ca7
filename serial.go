package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

var (
	// ErrInterrupted is returned by Read when Interrupt woke it up.
	ErrInterrupted = errors.New("serial: read interrupted")
	// ErrClosed is returned by operations on a closed Port.
	ErrClosed = errors.New("serial: port closed")
	// ErrUnsupportedBaudRate is returned by Configure for rates the tty layer has no constant for.
	ErrUnsupportedBaudRate = errors.New("serial: unsupported baud rate")
	// ErrUnsupportedStopBits is returned by Configure for 0.5 and 1.5 stop bits.
	ErrUnsupportedStopBits = errors.New("serial: unsupported stop bits")
)

// Port is a raw, blocking Linux serial port whose reads can be interrupted
// from another goroutine. Read and Write may run concurrently; they are
// serialized independently.
type Port struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	readMu    sync.Mutex
	writeMu   sync.Mutex
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
}

// Open opens the tty device for reading and writing. The line settings are
// not touched until ConfigureDefaults or Configure is called.
func Open(device string) (*Port, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}

	if _, err := unix.IoctlGetTermios(fd, unix.TCGETS); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Blocking from here on; Read waits in poll instead.
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set blocking: %w", err)
	}

	// Self-pipe used by Interrupt and Close to wake a pending Read.
	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	return &Port{
		fd:    fd,
		file:  os.NewFile(uintptr(fd), device),
		done:  make(chan struct{}),
		pipeR: pipeFds[0],
		pipeW: pipeFds[1],
	}, nil
}

// Name returns the device path.
func (p *Port) Name() string {
	return p.file.Name()
}

// ConfigureDefaults switches the port to raw mode and keeps the bitrate,
// stop bits and parity the driver already has.
func (p *Port) ConfigureDefaults() error {
	return p.configure(func(*unix.Termios) error { return nil })
}

// Configure switches the port to raw mode and applies cfg. Pin assignments
// are ignored: tty drivers do not multiplex pins.
func (p *Port) Configure(cfg Config) error {
	return p.configure(func(t *unix.Termios) error {
		return applyConfig(t, cfg)
	})
}

func applyConfig(t *unix.Termios, cfg Config) error {
	freq := cfg.Frequency
	if freq <= 0 {
		freq = DefaultFrequency
	}
	baud, ok := baudRates[freq]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaudRate, freq)
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= baud
	t.Ispeed = baud
	t.Ospeed = baud

	switch cfg.StopBits {
	case StopBitsOne:
		t.Cflag &^= unix.CSTOPB
	case StopBitsTwo:
		t.Cflag |= unix.CSTOPB
	case StopBitsHalf, StopBitsOneAndHalf:
		return fmt.Errorf("%w: %s", ErrUnsupportedStopBits, cfg.StopBits)
	}

	switch cfg.Parity {
	case ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		t.Cflag |= unix.PARENB
		t.Cflag &^= unix.PARODD
	default:
		t.Cflag &^= unix.PARENB | unix.PARODD
	}
	return nil
}

func (p *Port) configure(apply func(*unix.Termios) error) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	termios, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// Block until at least one byte is available, no inter-byte timer.
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := apply(termios); err != nil {
		return err
	}

	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// Read blocks until data is available, Interrupt is called or the port is
// closed. An interrupted Read returns ErrInterrupted and no data.
func (p *Port) Read(b []byte) (int, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	if len(b) == 0 {
		return 0, nil
	}
	for {
		select {
		case <-p.done:
			return 0, ErrClosed
		default:
		}

		pfd := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.pipeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(pfd, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, fmt.Errorf("poll: %w", err)
		}

		select {
		case <-p.done:
			return 0, ErrClosed
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			p.drain()
			return 0, ErrInterrupted
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			n, err := p.file.Read(b)
			if err != nil && !errors.Is(err, io.EOF) {
				return n, fmt.Errorf("read: %w", err)
			}
			return n, err
		}
	}
}

// Write writes b to the port and returns once the driver accepted all of it.
func (p *Port) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	select {
	case <-p.done:
		return 0, ErrClosed
	default:
	}
	n, err := p.file.Write(b)
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

// Interrupt wakes a Read blocked in another goroutine. If no Read is
// pending, the next one returns ErrInterrupted immediately.
func (p *Port) Interrupt() error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	if _, err := unix.Write(p.pipeW, []byte{1}); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("interrupt: %w", err)
	}
	return nil
}

func (p *Port) drain() {
	var buf [16]byte
	for {
		n, err := unix.Read(p.pipeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close wakes any pending Read and releases the device and the self-pipe.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		unix.Write(p.pipeW, []byte{1})

		p.readMu.Lock()
		defer p.readMu.Unlock()
		p.writeMu.Lock()
		defer p.writeMu.Unlock()

		err = multierr.Combine(
			p.file.Close(),
			unix.Close(p.pipeR),
			unix.Close(p.pipeW),
		)
	})
	return err
}

var baudRates = map[int]uint32{
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1152000: unix.B1152000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	2500000: unix.B2500000,
	3000000: unix.B3000000,
	3500000: unix.B3500000,
	4000000: unix.B4000000,
}
