package serial

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openPTY(t *testing.T) (master, slave *os.File, port *Port) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err = Open(slave.Name())
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	require.NoError(t, port.ConfigureDefaults())
	return master, slave, port
}

func TestPort_BasicRead(t *testing.T) {
	master, _, port := openPTY(t)

	_, err := master.Write([]byte("hello"))
	require.NoError(t, err)

	got := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		var acc []byte
		buf := make([]byte, 64)
		for len(acc) < len("hello") {
			n, err := port.Read(buf)
			if err != nil {
				errs <- err
				return
			}
			acc = append(acc, buf[:n]...)
		}
		got <- string(acc)
	}()

	select {
	case s := <-got:
		require.Equal(t, "hello", s)
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for data")
	}
}

func TestPort_Write(t *testing.T) {
	master, _, port := openPTY(t)

	line := "testline\r\n"
	n, err := port.Write([]byte(line))
	require.NoError(t, err)
	require.Equal(t, len(line), n)

	buf := make([]byte, len(line))
	n, err = master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, line, string(buf[:n]))
}

func TestPort_InterruptUnblocksRead(t *testing.T) {
	_, _, port := openPTY(t)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		_, err := port.Read(buf)
		done <- err
	}()

	// Give the goroutine a chance to block
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, port.Interrupt())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for Read to return after Interrupt")
	}
}

func TestPort_InterruptBeforeRead(t *testing.T) {
	_, _, port := openPTY(t)

	require.NoError(t, port.Interrupt())
	require.NoError(t, port.Interrupt())

	n, err := port.Read(make([]byte, 8))
	require.Zero(t, n)
	require.ErrorIs(t, err, ErrInterrupted)
}

func TestPort_DataAfterInterrupt(t *testing.T) {
	master, _, port := openPTY(t)

	require.NoError(t, port.Interrupt())
	_, err := port.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrInterrupted)

	_, err = master.Write([]byte("x"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := port.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "x", string(buf[:n]))
}

func TestPort_Close(t *testing.T) {
	_, _, port := openPTY(t)

	done := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 64))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, port.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for Read to exit after Close")
	}

	// Should be a no-op due to closeOnce
	require.NoError(t, port.Close())

	_, err := port.Write([]byte("x"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, port.Interrupt(), ErrClosed)
	require.ErrorIs(t, port.ConfigureDefaults(), ErrClosed)
}

func TestPort_ErrorPropagation(t *testing.T) {
	master, _, port := openPTY(t)

	errs := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 64))
		errs <- err
	}()

	// Simulate device disconnect by closing master
	require.NoError(t, master.Close())

	select {
	case err := <-errs:
		require.Error(t, err)
		require.False(t, errors.Is(err, ErrInterrupted))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for error after device disconnect")
	}
}

func TestPort_Configure(t *testing.T) {
	_, slave, port := openPTY(t)

	require.NoError(t, port.Configure(Config{
		Frequency: 9600,
		StopBits:  StopBitsTwo,
	}))

	termios, err := unix.IoctlGetTermios(int(slave.Fd()), unix.TCGETS)
	require.NoError(t, err)
	require.Equal(t, uint32(unix.B9600), termios.Cflag&unix.CBAUD)
	require.NotZero(t, termios.Cflag&unix.CSTOPB)
	require.Zero(t, termios.Lflag&unix.ICANON)
	require.Zero(t, termios.Lflag&unix.ECHO)

	require.NoError(t, port.Configure(Config{Frequency: 115200, StopBits: StopBitsOne}))
	termios, err = unix.IoctlGetTermios(int(slave.Fd()), unix.TCGETS)
	require.NoError(t, err)
	require.Equal(t, uint32(unix.B115200), termios.Cflag&unix.CBAUD)
	require.Zero(t, termios.Cflag&unix.CSTOPB)
}

func TestPort_ConfigureUnsupported(t *testing.T) {
	_, _, port := openPTY(t)

	require.ErrorIs(t, port.Configure(Config{Frequency: 12345}), ErrUnsupportedBaudRate)
	require.ErrorIs(t, port.Configure(Config{StopBits: StopBitsHalf}), ErrUnsupportedStopBits)
	require.ErrorIs(t, port.Configure(Config{StopBits: StopBitsOneAndHalf}), ErrUnsupportedStopBits)
}

func TestApplyConfig(t *testing.T) {
	tests := []struct {
		name    string
		initial uint32
		cfg     Config
		set     uint32
		cleared uint32
	}{
		{
			name:    "even parity",
			initial: unix.PARODD,
			cfg:     Config{Frequency: 9600, Parity: ParityEven},
			set:     unix.PARENB | unix.B9600,
			cleared: unix.PARODD,
		},
		{
			name: "odd parity",
			cfg:  Config{Frequency: 9600, Parity: ParityOdd},
			set:  unix.PARENB | unix.PARODD,
		},
		{
			name:    "no parity clears both",
			initial: unix.PARENB | unix.PARODD,
			cfg:     Config{Frequency: 9600},
			cleared: unix.PARENB | unix.PARODD,
		},
		{
			name:    "default stop bits left alone",
			initial: unix.CSTOPB,
			cfg:     Config{Frequency: 9600},
			set:     unix.CSTOPB,
		},
		{
			name: "zero frequency uses default",
			cfg:  Config{},
			set:  unix.B115200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			termios := &unix.Termios{Cflag: tt.initial}
			require.NoError(t, applyConfig(termios, tt.cfg))
			require.Equal(t, tt.set, termios.Cflag&tt.set)
			require.Zero(t, termios.Cflag&tt.cleared)
		})
	}
}

func TestOpen_NotATTY(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notatty")
	require.NoError(t, err)
	f.Close()

	_, err = Open(f.Name())
	require.Error(t, err)

	_, err = Open("/dev/does-not-exist")
	require.ErrorIs(t, err, unix.ENOENT)
}

func TestParsePin(t *testing.T) {
	tests := []struct {
		in   string
		want Pin
		ok   bool
	}{
		{"0.10", Pin{Port: 0, Number: 10}, true},
		{"2.31", Pin{Port: 2, Number: 31}, true},
		{" 1.2 ", Pin{Port: 1, Number: 2}, true},
		{"", Pin{}, false},
		{"10", Pin{}, false},
		{"a.b", Pin{}, false},
		{"1.256", Pin{}, false},
	}
	for _, tt := range tests {
		got, ok := ParsePin(tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}
