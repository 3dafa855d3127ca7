// Package serial provides a minimal, Linux-only raw serial port for
// bridging a UART to other byte streams.
//
// Unlike most serial libraries, a blocking Read can be woken from another
// goroutine without closing the port: Interrupt writes to a self-pipe that
// Read polls next to the tty. This lets a reader goroutine be stopped and
// joined before the port is closed.
//
// Features:
//   - Raw syscall-based serial I/O on Linux, no buffering delays
//   - Bitrate, stop bits and parity through termios
//   - Independent read and write locks, so one reader and one writer can share a Port
//   - Self-pipe mechanism for interruptible reads
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	port, err := serial.Open("/dev/ttyUSB0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	err = port.Configure(serial.Config{
//	    Frequency: 115200,
//	    StopBits:  serial.StopBitsOne,
//	    Parity:    serial.ParityNone,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	done := make(chan struct{})
//	go func() {
//	    defer close(done)
//	    buf := make([]byte, 64)
//	    for {
//	        n, err := port.Read(buf)
//	        if errors.Is(err, serial.ErrInterrupted) {
//	            return
//	        }
//	        os.Stdout.Write(buf[:n])
//	    }
//	}()
//
//	port.Write([]byte("C,START\r\n"))
//
//	// ... to stop reading, call port.Interrupt() and wait for the goroutine
//	port.Interrupt()
//	<-done
package serial
