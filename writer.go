package arc

import (
	"fmt"
	"io"
)

// writerState tracks the cursor of a writing handle.
type writerState int

const (
	writerIdle      writerState = iota // between entries
	writerEntryOpen                    // header written, awaiting payload
	writerClosed                       // terminal
)

// Writer is a streaming archive writing handle: entries are serialized in
// the order given through the format plugin, payloads are piped through
// the encode filter chain, and the format trailer is emitted on Close.
// A Writer is not safe for concurrent use.
type Writer struct {
	format  Format
	fw      FormatWriter
	closers []io.Closer // encode stack, outermost first
	state   writerState
	cur     *Entry
	written int64
}

// NewWriter opens a writing handle over sink using the given format and
// filter chain, outermost first. Unlike reading there is no sniffing: the
// writer controls the encoding. The sink is borrowed from the caller and
// is never closed by the handle.
func NewWriter(sink io.Writer, format Format, chain ...Filter) (*Writer, error) {
	w := sink
	var closers []io.Closer

	for _, f := range chain {
		wc, err := f.OpenWriter(w)
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("opening %s writer: %w", f.Name(), err)
		}
		closers = append(closers, wc)
		w = wc
	}

	fw, err := format.NewWriter(w)
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("opening %s writer: %w", format.Name(), err)
	}

	return &Writer{format: format, fw: fw, closers: closers}, nil
}

// WriteHeader begins a new entry. The previous entry must have been
// finished, and the declared size must be non-negative.
func (w *Writer) WriteHeader(e *Entry) error {
	if w.state != writerIdle {
		return fmt.Errorf("write header: %w", ErrInvalidState)
	}
	if e.Size < 0 {
		return fmt.Errorf("write header %s: negative size %d: %w", e.Path, e.Size, ErrSizeMismatch)
	}

	if err := w.fw.WriteHeader(e); err != nil {
		return fmt.Errorf("writing header %s: %w", e.Path, err)
	}

	w.cur, w.written, w.state = e, 0, writerEntryOpen

	return nil
}

// Write appends payload bytes to the open entry. Writing more than the
// declared size fails with ErrSizeMismatch before anything is flushed.
func (w *Writer) Write(p []byte) (int, error) {
	if w.state != writerEntryOpen {
		return 0, fmt.Errorf("write: %w", ErrInvalidState)
	}
	if w.written+int64(len(p)) > w.cur.Size {
		return 0, fmt.Errorf("writing %s: %d bytes exceed declared size %d: %w",
			w.cur.Path, w.written+int64(len(p)), w.cur.Size, ErrSizeMismatch)
	}

	n, err := w.fw.WriteData(p)
	w.written += int64(n)

	return n, err
}

// FinishEntry completes the open entry. Writing fewer bytes than declared
// fails with ErrSizeMismatch; there is no implicit padding. The failure is
// fatal for the entry but prior finalized entries stay intact, so the
// caller may still Close for a best-effort trailer.
func (w *Writer) FinishEntry() error {
	if w.state != writerEntryOpen {
		return fmt.Errorf("finish entry: %w", ErrInvalidState)
	}

	if w.written != w.cur.Size {
		path, size := w.cur.Path, w.cur.Size
		w.cur, w.state = nil, writerIdle
		return fmt.Errorf("finishing %s: wrote %d of %d declared bytes: %w",
			path, w.written, size, ErrSizeMismatch)
	}

	if err := w.fw.FinishEntry(); err != nil {
		return fmt.Errorf("finishing %s: %w", w.cur.Path, err)
	}

	w.cur, w.state = nil, writerIdle

	return nil
}

// WriteEntry writes a whole entry in one call: header, payload, finish.
// data may be nil for kinds that carry no payload.
func (w *Writer) WriteEntry(e *Entry, data io.Reader) error {
	if err := w.WriteHeader(e); err != nil {
		return err
	}

	if data != nil && e.Size > 0 {
		if _, err := io.CopyN(w, data, e.Size); err != nil {
			return fmt.Errorf("writing %s: %w", e.Path, err)
		}
	}

	return w.FinishEntry()
}

// Close flushes every filter stage and writes the format trailer. It is
// safe to call in any state: closing with an entry still open abandons
// the entry, releases resources without a trailer and reports the
// abandonment. The sink itself is left open for the caller. A second
// Close is a no-op.
func (w *Writer) Close() error {
	switch w.state {
	case writerClosed:
		return nil
	case writerEntryOpen:
		path := w.cur.Path
		w.state, w.cur = writerClosed, nil
		closeAll(w.closers)
		return fmt.Errorf("close: entry %s not finished: %w", path, ErrInvalidState)
	}

	w.state = writerClosed

	err := w.fw.Close()
	if cerr := closeAll(w.closers); err == nil {
		err = cerr
	}

	return err
}
