// Package bridge connects a serial port to a pair of byte streams: lines
// from the input are forwarded to the port while a reader goroutine copies
// whatever the port receives to the output.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/uarttool"
)

const (
	readBufferSize = 64
	maxLineLength  = readBufferSize - 1
	exitLine       = "exit\n"
)

// Port is the subset of *serial.Port the bridge uses. Read must return
// (possibly with serial.ErrInterrupted) once Interrupt has been called.
type Port interface {
	io.Reader
	io.Writer
	Interrupt() error
}

// Bridge forwards Stdin to Port and Port to Stdout until the line "exit"
// is entered or Stdin ends.
type Bridge struct {
	Name   string
	Port   Port
	Stdin  io.Reader
	Stdout io.Writer
	Logger *zap.Logger
}

// Run blocks until the session ends. The reader goroutine has returned by
// the time Run does, so the caller may close the port right away. The
// returned error is only set when reading Stdin failed.
func (b *Bridge) Run(ctx context.Context) error {
	log := b.Logger
	if log == nil {
		log = zap.NewNop()
	}
	out := &lockedWriter{w: b.Stdout}

	fmt.Fprintf(out, "bridging UART to stdio use enter `exit` to quit\n")

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.readLoop(readCtx, out, log)
	}()

	err := b.inputLoop(ctx, out, log)

	fmt.Fprintf(out, "%s>Stopping\n", b.Name)
	cancel()
	if ierr := b.Port.Interrupt(); ierr != nil {
		log.Warn("interrupt reader", zap.Error(ierr))
	}
	<-done
	log.Debug("reader stopped")

	return err
}

func (b *Bridge) inputLoop(ctx context.Context, out io.Writer, log *zap.Logger) error {
	in := bufio.NewReader(b.Stdin)
	for {
		line, err := readLine(in, maxLineLength)
		if string(line) == exitLine {
			return nil
		}
		if len(line) > 0 {
			if _, werr := b.Port.Write(line); werr != nil {
				fmt.Fprintf(out, "error: failed to write to uart: %v\n", werr)
				log.Warn("forward line", zap.Error(werr))
			} else {
				log.Debug("forwarded line", zap.Int("bytes", len(line)))
			}
		}
		if errors.Is(err, io.EOF) {
			log.Debug("input closed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// readLoop copies the port to out until ctx is cancelled. The context is
// checked after every read, so a pending Read has to be interrupted for the
// loop to notice.
func (b *Bridge) readLoop(ctx context.Context, out io.Writer, log *zap.Logger) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := b.Port.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				log.Warn("write output", zap.Error(werr))
			}
			flush(out)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, serial.ErrInterrupted) {
			log.Error("read from uart", zap.Error(err))
			return
		}
	}
}

// readLine reads up to limit bytes, stopping after a newline. The newline is
// kept. A longer line is returned in pieces by successive calls.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for len(line) < limit {
		c, err := r.ReadByte()
		if err != nil {
			return line, err
		}
		line = append(line, c)
		if c == '\n' {
			break
		}
	}
	return line, nil
}

type flusher interface {
	Flush() error
}

func flush(w io.Writer) {
	if f, ok := w.(flusher); ok {
		f.Flush()
	}
}

// lockedWriter lets the reader goroutine and the input loop share one
// output without interleaving inside a single write.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (l *lockedWriter) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	flush(l.w)
	return nil
}
