package arc

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/bodgit/sevenzip"
)

// SevenZip is the 7-Zip container format. Reading only; the compressed
// block layout makes streaming writes impractical. Like zip, reading needs
// random access, so non-seekable input is buffered in memory.
type SevenZip struct {
	// The password, if dealing with an encrypted archive.
	Password string
}

// magic number at the beginning of 7z files.
var sevenZipHeader = []byte("7z\xbc\xaf\x27\x1c")

// Interface guards
var _ Format = (*SevenZip)(nil)

func init() {
	RegisterFormat(SevenZip{})
}

func (SevenZip) Name() string {
	return ".7z"
}

func (z SevenZip) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if strings.Contains(strings.ToLower(filename), z.Name()) {
		mr.ByName = true
	}

	// match file header
	buf, err := readAtMost(stream, len(sevenZipHeader))
	if err != nil {
		return mr, err
	}

	mr.ByStream = bytes.Equal(buf, sevenZipHeader)

	return mr, nil
}

func (z SevenZip) NewReader(source io.Reader) (FormatReader, error) {
	ra, size, err := randomAccess(source)
	if err != nil {
		return nil, err
	}

	var szr *sevenzip.Reader
	if z.Password != "" {
		szr, err = sevenzip.NewReaderWithPassword(ra, size, z.Password)
	} else {
		szr, err = sevenzip.NewReader(ra, size)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: 7z: %v", ErrMalformed, err)
	}

	return &sevenZipReader{szr: szr}, nil
}

func (SevenZip) NewWriter(sink io.Writer) (FormatWriter, error) {
	return nil, fmt.Errorf("7z: %w", ErrWriteUnsupported)
}

type sevenZipReader struct {
	szr  *sevenzip.Reader
	next int
	cur  io.ReadCloser // open payload of the current entry
}

func (r *sevenZipReader) ReadHeader() (*Entry, error) {
	if r.cur != nil {
		r.cur.Close()
		r.cur = nil
	}

	if r.next >= len(r.szr.File) {
		return nil, io.EOF
	}
	f := r.szr.File[r.next]
	r.next++

	e := NewEntry(f.FileInfo(), "")
	e.Path = f.Name

	if e.Kind == KindRegular || e.Kind == KindOther {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: 7z: opening %s: %v", ErrMalformed, f.Name, err)
		}
		r.cur = rc
	}

	return e, nil
}

func (r *sevenZipReader) ReadData(p []byte) (int, error) {
	if r.cur == nil {
		return 0, io.EOF
	}

	n, err := r.cur.Read(p)
	if err == io.EOF {
		r.cur.Close()
		r.cur = nil
	}

	return n, err
}

func (r *sevenZipReader) SkipData() error {
	if r.cur != nil {
		r.cur.Close()
		r.cur = nil
	}
	return nil
}
