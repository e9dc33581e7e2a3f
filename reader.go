package arc

import (
	"context"
	"fmt"
	"io"

	"github.com/pchchv/golog"
)

// readerState tracks the cursor of a reading handle.
type readerState int

const (
	stateIdle    readerState = iota // no header read yet
	stateHeader                     // header available, payload untouched
	stateData                       // payload partially read
	stateDrained                    // payload exhausted
	stateEnd                        // end of archive reached
	stateClosed                     // handle closed
)

// Reader is a forward-only archive reading handle: one pass over the
// entries in container order, no rewind. It binds one byte source, one
// resolved filter chain and one format; once the handle advances past an
// entry, that entry's bytes are permanently inaccessible through it.
// A Reader is not safe for concurrent use.
type Reader struct {
	source          io.Reader
	format          Format
	filters         []Filter // outermost first
	filtersSet      bool
	filename        string
	continueOnError bool

	closers []io.Closer // decode stack, innermost last
	counted *countingReader
	fr      FormatReader
	state   readerState
	cur     *Entry
	hdrOff  int64 // decoded offset of the current entry's header
	gen     int   // bumped on every advance; invalidates entry streams
}

// ReaderOption configures a reading handle.
type ReaderOption func(*Reader)

// WithFormat pins the container format, skipping format sniffing.
func WithFormat(f Format) ReaderOption {
	return func(r *Reader) { r.format = f }
}

// WithFilters pins the decode filter chain, outermost first, skipping
// filter sniffing. Calling it with no arguments pins an empty chain for a
// known-uncompressed stream.
func WithFilters(chain ...Filter) ReaderOption {
	return func(r *Reader) {
		r.filters = chain
		r.filtersSet = true
	}
}

// WithFilename supplies the archive's file name as a sniffing hint.
func WithFilename(name string) ReaderOption {
	return func(r *Reader) { r.filename = name }
}

// WithContinueOnError makes Walk log per-entry handler failures and
// continue with the remaining entries instead of aborting.
func WithContinueOnError() ReaderOption {
	return func(r *Reader) { r.continueOnError = true }
}

// NewReader opens a reading handle over source. Unless pinned via options,
// the filter chain and the container format are resolved by sniffing the
// leading bytes of the stream. The source is borrowed from the caller for
// the lifetime of the handle and is never closed by it.
func NewReader(source io.Reader, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{source: source}
	for _, o := range opts {
		o(r)
	}

	stream := io.Reader(source)
	if r.format == nil || !r.filtersSet {
		format, chain, rest, err := identify(r.filename, source, r.format, r.filters, r.filtersSet)
		if err != nil {
			return nil, err
		}
		r.format, r.filters, r.filtersSet, stream = format, chain, true, rest
	}

	if err := r.connect(stream, 0); err != nil {
		return nil, err
	}

	return r, nil
}

// connect opens the decode chain over stream and positions the format
// reader after discarding skip decoded bytes.
func (r *Reader) connect(stream io.Reader, skip int64) error {
	decoded, closers, err := openDecodeChain(stream, r.filters)
	if err != nil {
		return err
	}

	counted := &countingReader{r: decoded}
	if skip > 0 {
		if _, err = io.CopyN(io.Discard, counted, skip); err != nil {
			closeAll(closers)
			return fmt.Errorf("fast-forwarding %d decoded bytes: %w", skip, err)
		}
	}

	fr, err := r.format.NewReader(counted)
	if err != nil {
		closeAll(closers)
		return fmt.Errorf("opening %s reader: %w", r.format.Name(), err)
	}

	r.closers, r.counted, r.fr = closers, counted, fr
	r.state, r.cur = stateIdle, nil

	return nil
}

// Next advances to the next entry, discarding any unread payload of the
// current one first. It returns io.EOF at the end of the archive; any
// other error is fatal for the handle.
func (r *Reader) Next() (*Entry, error) {
	switch r.state {
	case stateClosed:
		return nil, fmt.Errorf("next: %w", ErrInvalidState)
	case stateEnd:
		return nil, io.EOF
	case stateHeader, stateData, stateDrained:
		if err := r.fr.SkipData(); err != nil {
			r.fail()
			return nil, fmt.Errorf("skipping entry data: %w", err)
		}
	}

	r.gen++
	hdrOff := r.counted.n

	e, err := r.fr.ReadHeader()
	if err == io.EOF {
		// exhausting the sequence releases the decode chain; the source
		// stays with the caller
		r.state, r.cur = stateEnd, nil
		r.release()
		return nil, io.EOF
	}
	if err != nil {
		r.fail()
		return nil, fmt.Errorf("reading header: %w", err)
	}

	e.Path = normalizePath(e.Path)
	r.cur, r.hdrOff, r.state = e, hdrOff, stateHeader

	return e, nil
}

// Read returns payload bytes of the current entry, io.EOF once it is
// exhausted. Reading before the first Next or after the archive ended
// fails with ErrInvalidState.
func (r *Reader) Read(p []byte) (int, error) {
	switch r.state {
	case stateHeader, stateData:
	case stateDrained:
		return 0, io.EOF
	default:
		return 0, fmt.Errorf("read: %w", ErrInvalidState)
	}

	n, err := r.fr.ReadData(p)
	if n > 0 {
		r.state = stateData
	}
	if err == io.EOF {
		r.state = stateDrained
	}

	return n, err
}

// Entry returns the current entry, or nil if no header is loaded.
func (r *Reader) Entry() *Entry {
	return r.cur
}

// Stream returns a bounded reader over the current entry's payload.
// The stream goes invalid once the handle advances past the entry: later
// reads fail with ErrInvalidState instead of silently returning the next
// entry's bytes.
func (r *Reader) Stream() (*EntryStream, error) {
	if r.state != stateHeader && r.state != stateData {
		return nil, fmt.Errorf("stream: %w", ErrInvalidState)
	}
	return &EntryStream{r: r, gen: r.gen}, nil
}

// Close releases the filter chain. The underlying source is borrowed from
// the caller and is left open. Close is safe to call in any state,
// including mid-entry, and is idempotent.
func (r *Reader) Close() error {
	if r.state == stateClosed {
		return nil
	}

	r.state, r.cur = stateClosed, nil
	r.gen++

	return r.release()
}

// fail makes the handle unusable after a fatal archive error.
func (r *Reader) fail() {
	r.state, r.cur = stateClosed, nil
	r.gen++
	r.release()
}

// release closes the decode chain once; later calls are no-ops.
func (r *Reader) release() error {
	closers := r.closers
	r.closers = nil
	return closeAll(closers)
}

// EntryHandler receives one entry and its payload stream during Walk.
type EntryHandler func(ctx context.Context, e *Entry, data io.Reader) error

// Walk iterates over the remaining entries, invoking handle for each one.
// With WithContinueOnError, handler failures are logged and iteration
// continues for the remaining entries; context and archive errors always
// abort.
func (r *Reader) Walk(ctx context.Context, handle EntryHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		stream, err := r.Stream()
		if err != nil {
			return err
		}

		if err := handle(ctx, e, stream); err != nil {
			if r.continueOnError && ctx.Err() == nil { // context errors should always abort
				golog.Info("[ERROR] handling %s: %v", e.Path, err)
				continue
			}
			return fmt.Errorf("handling %s: %w", e.Path, err)
		}
	}
}

// EntryStream reads one entry's payload and refuses to read once the
// parent handle has moved on.
type EntryStream struct {
	r   *Reader
	gen int
}

func (s *EntryStream) Read(p []byte) (int, error) {
	if s.r == nil || s.gen != s.r.gen {
		return 0, fmt.Errorf("entry stream: %w", ErrInvalidState)
	}
	return s.r.Read(p)
}

// countingReader tracks how many decoded bytes the format layer consumed,
// which is what the seekable index records as header offsets.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) rawSource() io.Reader {
	return c.r
}
