package arc

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/nwaples/rardecode/v2"
)

// Rar is the RAR container format. Reading only; the format is proprietary
// and no writer exists.
type Rar struct {
	// The password, if dealing with an encrypted archive.
	Password string
}

// magic number shared by RAR v4 and v5 signatures.
var rarHeader = []byte("Rar!\x1a\x07")

// Interface guards
var _ Format = (*Rar)(nil)

func init() {
	RegisterFormat(Rar{})
}

func (Rar) Name() string {
	return ".rar"
}

func (r Rar) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if strings.Contains(strings.ToLower(filename), r.Name()) {
		mr.ByName = true
	}

	// match file header
	buf, err := readAtMost(stream, len(rarHeader))
	if err != nil {
		return mr, err
	}

	mr.ByStream = bytes.Equal(buf, rarHeader)

	return mr, nil
}

func (r Rar) NewReader(source io.Reader) (FormatReader, error) {
	var options []rardecode.Option
	if r.Password != "" {
		options = append(options, rardecode.Password(r.Password))
	}

	rr, err := rardecode.NewReader(source, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: rar: %v", ErrMalformed, err)
	}

	return &rarReader{rr: rr}, nil
}

func (Rar) NewWriter(sink io.Writer) (FormatWriter, error) {
	return nil, fmt.Errorf("rar: %w", ErrWriteUnsupported)
}

type rarReader struct {
	rr      *rardecode.Reader
	hasData bool
}

func (r *rarReader) ReadHeader() (*Entry, error) {
	hdr, err := r.rr.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: rar: %v", ErrMalformed, err)
	}

	info := hdr.Mode()
	e := &Entry{
		Path:    hdr.Name,
		Size:    hdr.UnPackedSize,
		ModTime: hdr.ModificationTime,
		Mode:    info.Perm(),
	}

	switch {
	case hdr.IsDir:
		e.Kind, e.Size = KindDir, 0
	default:
		e.Kind = KindRegular
		if hdr.UnKnownSize {
			e.Size = -1 // discovered as the payload streams
		}
	}

	r.hasData = e.Kind == KindRegular

	return e, nil
}

func (r *rarReader) ReadData(p []byte) (int, error) {
	if !r.hasData {
		return 0, io.EOF
	}

	n, err := r.rr.Read(p)
	if err == io.EOF {
		r.hasData = false
	}

	return n, err
}

func (r *rarReader) SkipData() error {
	// the decoder discards the remaining payload on the next header read
	r.hasData = false
	return nil
}
