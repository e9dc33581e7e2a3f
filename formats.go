package arc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// maxFilterStack bounds filter auto-detection so a stream whose decoded
// output keeps matching filter magics cannot loop forever.
const maxFilterStack = 8

// MatchResult returns true if the format was found either by name, by stream, or by both parameters.
// The name usually refers to searching by file extension,
// and the stream refers to reading the first few bytes of the stream (its header).
// Matching by stream is usually more reliable,
// because filenames do not always indicate the contents of files, if they exist at all.
type MatchResult struct {
	ByName,
	ByStream bool
}

// Matched returns true if a match was made by either name or stream.
func (mr MatchResult) Matched() bool {
	return mr.ByName || mr.ByStream
}

// Registered formats and filters. Both lists are populated during init and
// are read-only afterwards; list order is the probe order, so more specific
// signatures must be registered before generic ones.
var (
	registryMu sync.Mutex
	formats    []Format
	filters    []Filter
)

// RegisterFormat registers a container format.
// It must be called during init.
// Duplicate formats by name are not allowed and will cause a panic.
func RegisterFormat(format Format) {
	registryMu.Lock()
	defer registryMu.Unlock()

	for _, f := range formats {
		if strings.EqualFold(f.Name(), format.Name()) {
			panic("format " + format.Name() + " is already registered")
		}
	}

	formats = append(formats, format)
}

// RegisterFilter registers a compression filter.
// It must be called during init.
// Duplicate filters by name are not allowed and will cause a panic.
func RegisterFilter(filter Filter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	for _, f := range filters {
		if strings.EqualFold(f.Name(), filter.Name()) {
			panic("filter " + filter.Name() + " is already registered")
		}
	}

	filters = append(filters, filter)
}

// rewindReader is a reader that can be rewound (reset) to re-read what has already been read
// and then continue reading further from the main stream. When rewind is no longer needed,
// call reader() to get a new reader that first reads the buffered bytes and then continues reading from the stream.
// This is useful for "peeking" into the stream for an arbitrary number of bytes.
type rewindReader struct {
	io.Reader
	buf       *bytes.Buffer
	bufReader io.Reader
}

func newRewindReader(r io.Reader) *rewindReader {
	return &rewindReader{
		Reader: r,
		buf:    new(bytes.Buffer),
	}
}

func (rr *rewindReader) Read(p []byte) (n int, err error) {
	// If there is a buffer from which we have to read, we start with it.
	// Read from the main stream only after the buffer is "depleted"
	if rr.bufReader != nil {
		n, err = rr.bufReader.Read(p)

		if err == io.EOF {
			rr.bufReader = nil
			err = nil
		}

		if n == len(p) {
			return
		}
	}

	// buffer has been "depleted" so read from underlying connection
	nr, err := rr.Reader.Read(p[n:])

	// everything that was read should be written to the buffer, even if there was an error
	if nr > 0 {
		if nw, err := rr.buf.Write(p[n : n+nr]); err != nil {
			return nw, err
		}
	}

	// until now n was the number of bytes read from the buffer, and nr was the number of bytes read from the stream.
	// Add them up to get the total number of bytes.
	n += nr

	return
}

// rewind returns the thread to the beginning, forcing Read() to start reading from the beginning of the buffered bytes.
func (rr *rewindReader) rewind() {
	rr.bufReader = bytes.NewReader(rr.buf.Bytes())
}

// reader returns a reader that reads first from the buffered bytes and then from the base stream.
// After this function is called, no more rewinding is allowed,
// since no read from the stream is written, so rewinding is not possible.
// If the base reader implements io.Seeker, the base reader itself will be used.
func (rr *rewindReader) reader() io.Reader {
	if ras, ok := rr.Reader.(io.Seeker); ok {
		if _, err := ras.Seek(0, io.SeekStart); err == nil {
			return rr.Reader
		}
	}
	return io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.Reader)
}

// Identify resolves the decode filter chain (outermost first) and the
// container format by probing the leading bytes of the stream. Filters are
// probed against the raw source first; each match is prepended to the chain
// and probing repeats on the now-partially-decoded stream until no further
// filter matches, which supports multiply-stacked compression. The format
// is then probed through the full chain.
// The returned io.Reader will always be non-nil and will read from the same point as the passed reader,
// it should be used instead of the input stream after the Identify() call,
// because it saves and re-reads bytes that have already been read in the Identify process.
func Identify(filename string, stream io.Reader) (Format, []Filter, io.Reader, error) {
	return identify(filename, stream, nil, nil, false)
}

func identify(filename string, stream io.Reader, format Format, chain []Filter, chainPinned bool) (Format, []Filter, io.Reader, error) {
	rr := newRewindReader(stream)

	if !chainPinned {
		for len(chain) < maxFilterStack {
			f, err := sniffFilter(rr, chain)
			if err != nil {
				return nil, nil, rr.reader(), err
			}
			if f == nil {
				break
			}
			chain = append(chain, f)
		}
	}

	if format == nil {
		var err error
		format, err = sniffFormat(filename, rr, chain)
		if err != nil {
			return nil, nil, rr.reader(), err
		}
		if format == nil {
			return nil, nil, rr.reader(), fmt.Errorf("identify: %w", ErrUnknownFormat)
		}
	}

	return format, chain, rr.reader(), nil
}

// sniffFilter probes every registered filter against the stream as decoded
// by the already-matched chain, returning the first stream match or nil.
// A fresh decode stack is opened for every probe because rewinding the raw
// stream invalidates any decompressor state built on top of it.
func sniffFilter(rr *rewindReader, chain []Filter) (Filter, error) {
	defer rr.rewind()

	for _, candidate := range filters {
		rr.rewind()

		decoded, closers, err := openDecodeChain(rr, chain)
		if err != nil {
			return nil, fmt.Errorf("opening filter chain: %w", err)
		}

		mr, err := candidate.Match("", decoded)
		closeAll(closers)

		// if the error is EOF - ignore it.
		// This means that the input file is small.
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if err != nil {
			return nil, fmt.Errorf("matching %s: %w", candidate.Name(), err)
		}

		if mr.ByStream {
			return candidate, nil
		}
	}

	return nil, nil
}

// sniffFormat probes every registered format through the resolved filter
// chain; the first match in registration order wins.
func sniffFormat(filename string, rr *rewindReader, chain []Filter) (Format, error) {
	defer rr.rewind()

	for _, candidate := range formats {
		rr.rewind()

		decoded, closers, err := openDecodeChain(rr, chain)
		if err != nil {
			return nil, fmt.Errorf("opening filter chain: %w", err)
		}

		mr, err := candidate.Match(filename, decoded)
		closeAll(closers)

		if errors.Is(err, io.EOF) {
			err = nil
		}
		if err != nil {
			return nil, fmt.Errorf("matching %s: %w", candidate.Name(), err)
		}

		if mr.Matched() {
			return candidate, nil
		}
	}

	return nil, nil
}

// openDecodeChain stacks the decompressors of chain (outermost first) over
// r and returns the fully decoded stream along with the closers of every
// stage, innermost last.
func openDecodeChain(r io.Reader, chain []Filter) (io.Reader, []io.Closer, error) {
	var closers []io.Closer

	for _, f := range chain {
		rc, err := f.OpenReader(r)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("opening %s reader: %w", f.Name(), err)
		}

		closers = append(closers, rc)
		r = rc
	}

	return r, closers, nil
}

// closeAll closes the stages in reverse order and keeps the first error.
func closeAll(closers []io.Closer) error {
	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// readAtMost reads at most n bytes from the stream.
// A nil, empty or short stream is not an error.
// The returned slice of bytes may have length < n without error.
func readAtMost(stream io.Reader, n int) ([]byte, error) {
	if stream == nil || n <= 0 {
		return []byte{}, nil
	}

	buf := make([]byte, n)
	nr, err := io.ReadFull(stream, buf)

	// If the error is EOF (the stream was empty) or UnexpectedEOF (the stream had less than n)
	// ignore these errors because it is not necessary to read all n bytes,
	// so an empty or short stream is not an error.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}

	if err != nil {
		return nil, err
	}

	return buf[:nr], nil
}

// rawSourcer is implemented by stream wrappers that can expose the reader
// they wrap, letting random-access formats reach a seekable source.
type rawSourcer interface {
	rawSource() io.Reader
}

// randomAccess turns the source into an io.ReaderAt with a known size.
// A seekable source is used in place; anything else is buffered in memory.
func randomAccess(source io.Reader) (io.ReaderAt, int64, error) {
	for {
		if rs, ok := source.(rawSourcer); ok {
			source = rs.rawSource()
			continue
		}
		break
	}

	if ra, ok := source.(io.ReaderAt); ok {
		if sk, ok := source.(io.Seeker); ok {
			if size, err := sk.Seek(0, io.SeekEnd); err == nil {
				return ra, size, nil
			}
		}
	}

	buf, err := io.ReadAll(source)
	if err != nil {
		return nil, 0, err
	}

	return bytes.NewReader(buf), int64(len(buf)), nil
}
