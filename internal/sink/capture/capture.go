// Package capture appends decoded messages to a JSON-lines file.
package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/allbin/go-devlink/frame"
)

// Writer appends one line per message. The file is opened in append mode,
// so a capture can be resumed without losing earlier data.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	console io.Writer
	count   int64
	bytes   int64
	start   time.Time
}

// Open opens (or creates) path for appending. If console is not nil,
// every line is also written to it.
func Open(path string, console io.Writer) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return &Writer{file: file, console: console, start: time.Now()}, nil
}

func (w *Writer) Name() string { return "capture" }

func (w *Writer) Handle(_ context.Context, msg frame.Message) error {
	line, err := frame.Encode(msg, "\n")
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(line)
	w.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	w.count++

	if w.console != nil {
		w.console.Write(line)
	}
	return nil
}

// Stats reports how much has been written since Open.
func (w *Writer) Stats() (messages, bytes int64, elapsed time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count, w.bytes, time.Since(w.start)
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
