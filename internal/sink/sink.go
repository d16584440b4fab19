// Package sink routes recognised text to its destinations: the console, an
// append-only file, and an optional websocket event stream. Every write is
// flushed immediately so a crash never loses a committed transcription.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Sink receives one recognised line at a time.
type Sink interface {
	// WriteText appends one transcription line and flushes it.
	WriteText(text string) error

	// Close releases the sink. Safe to call once writes have stopped.
	Close() error
}

// Console writes lines to w, one per call.
type Console struct {
	W io.Writer
}

func (c *Console) WriteText(text string) error {
	_, err := fmt.Fprintln(c.W, text)
	return err
}

func (c *Console) Close() error { return nil }

// File appends lines to a file, flushing after every write.
type File struct {
	f *os.File
	w *bufio.Writer
}

// OpenFile opens (or creates) path in append mode.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %q: %w", path, err)
	}
	return &File{f: f, w: bufio.NewWriter(f)}, nil
}

func (s *File) WriteText(text string) error {
	if _, err := s.w.WriteString(text + "\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *File) Close() error {
	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}

// Func adapts a function to the Sink interface. Used by the command server
// to turn transcriptions into protocol events.
type Func func(text string) error

func (f Func) WriteText(text string) error { return f(text) }
func (f Func) Close() error                { return nil }
