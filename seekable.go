package arc

import (
	"fmt"
	"io"
)

// indexRecord remembers where an entry was first seen.
type indexRecord struct {
	entry  *Entry
	ord    int   // position in archive order
	hdrOff int64 // decoded-stream offset of the header start
}

// SeekableReader provides random access to archive entries by name. It
// wraps the forward-only Reader with an offset index built incrementally
// during forward iteration: entries are added as first discovered and
// never removed. A lookup behind the cursor reopens the source; formats
// with self-delimiting headers are resumed at the recorded decoded-byte
// offset (re-decoding the filter chain from the start of the raw source
// when one is present), everything else is replayed entry by entry. Either
// way a cold lookup costs O(offset), which is the documented trade-off
// versus the forward-only Reader. The source is treated as immutable for
// the lifetime of the handle.
type SeekableReader struct {
	source   io.ReadSeeker
	filename string
	format   Format
	filters  []Filter
	r        *Reader
	index    map[string]*indexRecord
	records  []*indexRecord
	next     int // ordinal the underlying reader will yield next
	complete bool
	closed   bool
}

// NewSeekableReader opens a random-access handle over source. The same
// options as NewReader apply; sniffing happens once, and the resolved
// format and filter chain are reused on every reopen.
func NewSeekableReader(source io.ReadSeeker, opts ...ReaderOption) (*SeekableReader, error) {
	r, err := NewReader(source, opts...)
	if err != nil {
		return nil, err
	}

	return &SeekableReader{
		source:   source,
		filename: r.filename,
		format:   r.format,
		filters:  r.filters,
		r:        r,
		index:    make(map[string]*indexRecord),
	}, nil
}

// Next advances forward iteration, indexing each entry as it is first
// seen. It returns io.EOF at the end of the archive.
func (s *SeekableReader) Next() (*Entry, error) {
	if s.closed {
		return nil, fmt.Errorf("next: %w", ErrInvalidState)
	}

	e, err := s.r.Next()
	if err == io.EOF {
		s.complete = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}

	ord := s.next
	s.next++

	// after a reopen the reader revisits already-indexed ordinals
	if ord == len(s.records) {
		rec := &indexRecord{entry: e, ord: ord, hdrOff: s.r.hdrOff}
		s.records = append(s.records, rec)
		if _, ok := s.index[e.Path]; !ok { // first occurrence of a repeated name wins
			s.index[e.Path] = rec
		}
	}

	return e, nil
}

// Read returns payload bytes of the entry the handle is positioned at.
func (s *SeekableReader) Read(p []byte) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("read: %w", ErrInvalidState)
	}
	return s.r.Read(p)
}

// Entry returns the metadata for name, scanning forward from the current
// position when it has not been indexed yet. The scan indexes every entry
// it passes over. Absent names report ErrNotFound; the handle stays
// usable for further lookups.
func (s *SeekableReader) Entry(name string) (*Entry, error) {
	rec, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return rec.entry, nil
}

// Open positions the archive at the named entry and returns its payload
// stream. The stream goes invalid once the handle moves elsewhere.
func (s *SeekableReader) Open(name string) (*EntryStream, error) {
	rec, err := s.lookup(name)
	if err != nil {
		return nil, err
	}

	if err := s.seekTo(rec); err != nil {
		return nil, err
	}

	return s.r.Stream()
}

// ReadFile returns the full payload of the named entry.
func (s *SeekableReader) ReadFile(name string) ([]byte, error) {
	stream, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(stream)
}

// Indexed returns the pathnames recorded in the offset index so far, in
// archive order.
func (s *SeekableReader) Indexed() []string {
	names := make([]string, 0, len(s.records))
	for _, rec := range s.records {
		if s.index[rec.entry.Path] == rec {
			names = append(names, rec.entry.Path)
		}
	}
	return names
}

// Close releases the underlying reader. The source stays open for the
// caller.
func (s *SeekableReader) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.r.Close()
}

func (s *SeekableReader) lookup(name string) (*indexRecord, error) {
	if s.closed {
		return nil, fmt.Errorf("lookup: %w", ErrInvalidState)
	}

	name = normalizePath(name)
	if rec, ok := s.index[name]; ok {
		return rec, nil
	}

	for !s.complete {
		e, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if e.Path == name {
			return s.index[name], nil
		}
	}

	return nil, fmt.Errorf("entry %s: %w", name, ErrNotFound)
}

// seekTo leaves the underlying reader positioned with rec's entry current
// and its payload untouched.
func (s *SeekableReader) seekTo(rec *indexRecord) error {
	// already current with an unread payload?
	if s.next == rec.ord+1 && s.r.state == stateHeader {
		return nil
	}

	if rec.ord >= s.next {
		// ahead of the cursor: plain forward iteration
		return s.fastForward(rec)
	}

	return s.reopen(rec)
}

// fastForward iterates until rec's entry is current.
func (s *SeekableReader) fastForward(rec *indexRecord) error {
	for s.next <= rec.ord {
		if _, err := s.Next(); err != nil {
			if err == io.EOF {
				// sources are immutable for the handle's lifetime,
				// so a recorded entry cannot vanish
				return fmt.Errorf("entry %s: %w", rec.entry.Path, ErrNotFound)
			}
			return err
		}
	}
	return nil
}

// reopen rewinds the raw source and rebuilds the reading pipeline with
// the already-resolved format and filter chain, then lands on rec.
func (s *SeekableReader) reopen(rec *indexRecord) error {
	s.r.Close()

	if _, err := s.source.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding source: %w", err)
	}

	nr := &Reader{
		source:     s.source,
		format:     s.format,
		filters:    s.filters,
		filtersSet: true,
		filename:   s.filename,
	}

	if resumable(s.format) {
		if len(s.filters) == 0 {
			// byte-addressable container, no filter state to rebuild:
			// seek straight to the recorded header
			if _, err := s.source.Seek(rec.hdrOff, io.SeekStart); err != nil {
				return fmt.Errorf("seeking to %d: %w", rec.hdrOff, err)
			}
			if err := nr.connect(s.source, 0); err != nil {
				return err
			}
			nr.counted.n = rec.hdrOff
		} else {
			// most codecs are not randomly seekable: re-decode from the
			// start, discarding output up to the recorded offset
			if err := nr.connect(s.source, rec.hdrOff); err != nil {
				return err
			}
		}
		s.r, s.next = nr, rec.ord
	} else {
		if err := nr.connect(s.source, 0); err != nil {
			return err
		}
		s.r, s.next = nr, 0
	}

	return s.fastForward(rec)
}

// resumable reports whether readers of the format can start at a recorded
// header boundary rather than only at offset zero.
func resumable(f Format) bool {
	r, ok := f.(interface{ CanResume() bool })
	return ok && r.CanResume()
}
