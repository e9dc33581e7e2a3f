package arc

import "io"

// Format is a container layout codec: it frames a byte stream into a
// sequence of entries with data spans on read, and serializes entries
// back into a valid container on write.
type Format interface {
	// Name returns the name of the format.
	Name() string

	// Match returns true if the given name/stream is recognized. One of the arguments is optional:
	// the filename can be empty if you are working with an unnamed stream,
	// or the stream can be empty if you are working with just the filename.
	// The filename should consist only of the filename, not the path component,
	// and is usually used to search by file extension.
	// However, it is preferable to perform a read stream search.
	// Match reads only as many bytes as necessary to determine the match.
	// To save the stream when matching,
	// you must either buffer what Match reads or search for the last position before calling Match.
	Match(filename string, stream io.Reader) (MatchResult, error)

	// NewReader opens a framing reader over an already filter-decoded stream.
	NewReader(source io.Reader) (FormatReader, error)

	// NewWriter opens a framing writer over a sink that already has the
	// encode filter chain applied. Read-only formats return an error
	// wrapping ErrWriteUnsupported.
	NewWriter(sink io.Writer) (FormatWriter, error)
}

// FormatReader demultiplexes one archive stream into entry headers and
// payload spans. Implementations own all framing details, including block
// padding and end-of-archive markers.
type FormatReader interface {
	// ReadHeader consumes exactly one header record and returns its entry.
	// It returns io.EOF once the end-of-archive marker has been consumed.
	ReadHeader() (*Entry, error)

	// ReadData returns the next chunk of the current entry's payload.
	// It returns io.EOF when the payload is exhausted and never reads
	// into the following header, even when p is not filled.
	ReadData(p []byte) (int, error)

	// SkipData discards the unread remainder of the current entry's
	// payload along with any trailing padding, leaving the stream at the
	// next header boundary. Must be correct even for entries whose length
	// is delimited in-band rather than declared in the header.
	SkipData() error
}

// FormatWriter is the mirror image of FormatReader.
type FormatWriter interface {
	// WriteHeader serializes an entry header.
	WriteHeader(e *Entry) error

	// WriteData appends payload bytes to the current entry.
	WriteData(p []byte) (int, error)

	// FinishEntry completes the current entry, emitting any padding.
	FinishEntry() error

	// Close emits the format trailer. It does not close the sink.
	Close() error
}

// Filter is a byte-stream compression codec layered transparently beneath
// a Format. Filters may be stacked; each stage owns its own buffering.
type Filter interface {
	// Name returns the name of the filter.
	Name() string

	// Match recognizes the filter by filename and/or magic bytes, with
	// the same conventions as Format.Match. Stream sniffing trusts only
	// ByStream; filters without a reliable signature leave it unset and
	// are usable through explicit configuration only.
	Match(filename string, stream io.Reader) (MatchResult, error)

	// OpenReader wraps the stream with a decompressor.
	OpenReader(r io.Reader) (io.ReadCloser, error)

	// OpenWriter wraps the sink with a compressor.
	OpenWriter(w io.Writer) (io.WriteCloser, error)
}
