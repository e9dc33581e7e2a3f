package arc

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/encoding/ianaindex"
)

// Zip is the PKZIP container format. Writing streams through archive/zip;
// reading needs random access to the decoded stream to reach the central
// directory, so non-seekable input (a filtered stream, a network reader)
// is buffered in memory first.
type Zip struct {
	// Only compress files which are not already in a compressed format.
	SelectiveCompression bool

	// Method or algorithm for compressing stored files.
	// If zero, Deflate is assumed.
	Compression uint16

	// Encoding for files in zip archives whose names and comments are not UTF-8 encoded.
	TextEncoding string
}

const (
	// Additional compression methods not offered by archive/zip.
	ZipMethodBzip2 = 12
	ZipMethodLzma  = 14
	ZipMethodZstd  = 93
	ZipMethodXz    = 95
)

var (
	// Interface guards
	_ Format = (*Zip)(nil)

	// empty zip files carry no local header; they start directly with the
	// end-of-central-directory record, so both signatures are sniffed
	zipHeader      = []byte("PK\x03\x04")
	zipHeaderEmpty = []byte("PK\x05\x06")

	// compressedFormats is an incomplete set of file extensions with lowercase letters
	// for formats that are normally already compressed.
	// Compressing already compressed files is inefficient.
	compressedFormats = map[string]struct{}{
		".7z":   {},
		".avi":  {},
		".br":   {},
		".bz2":  {},
		".cab":  {},
		".docx": {},
		".gif":  {},
		".gz":   {},
		".jar":  {},
		".jpeg": {},
		".jpg":  {},
		".lz":   {},
		".lz4":  {},
		".lzma": {},
		".m4v":  {},
		".mov":  {},
		".mp3":  {},
		".mp4":  {},
		".mpeg": {},
		".mpg":  {},
		".png":  {},
		".pptx": {},
		".rar":  {},
		".sz":   {},
		".tbz2": {},
		".tgz":  {},
		".tsz":  {},
		".txz":  {},
		".xlsx": {},
		".xz":   {},
		".zip":  {},
		".zipx": {},
	}
)

func init() {
	RegisterFormat(Zip{})

	zip.RegisterCompressor(ZipMethodBzip2, func(out io.Writer) (io.WriteCloser, error) {
		return bzip2.NewWriter(out, &bzip2.WriterConfig{})
	})

	zip.RegisterCompressor(ZipMethodZstd, func(out io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(out)
	})

	zip.RegisterCompressor(ZipMethodXz, func(out io.Writer) (io.WriteCloser, error) {
		return xz.NewWriter(out)
	})

	zip.RegisterDecompressor(ZipMethodBzip2, func(r io.Reader) io.ReadCloser {
		bz2r, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil
		}
		return bz2r
	})

	zip.RegisterDecompressor(ZipMethodZstd, func(r io.Reader) io.ReadCloser {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil
		}
		return zr.IOReadCloser()
	})

	zip.RegisterDecompressor(ZipMethodXz, func(r io.Reader) io.ReadCloser {
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil
		}
		return io.NopCloser(xr)
	})
}

func (z Zip) Name() string {
	return ".zip"
}

func (z Zip) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if strings.Contains(strings.ToLower(filename), z.Name()) {
		mr.ByName = true
	}

	// match file header
	buf, err := readAtMost(stream, len(zipHeader))
	if err != nil {
		return mr, err
	}

	mr.ByStream = bytes.Equal(buf, zipHeader) || bytes.Equal(buf, zipHeaderEmpty)

	return mr, nil
}

func (z Zip) NewReader(source io.Reader) (FormatReader, error) {
	ra, size, err := randomAccess(source)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("%w: zip: %v", ErrMalformed, err)
	}

	return &zipReader{zr: zr, encoding: z.TextEncoding}, nil
}

func (z Zip) NewWriter(sink io.Writer) (FormatWriter, error) {
	method := z.Compression
	if method == 0 {
		method = zip.Deflate
	}

	return &zipWriter{
		zw:        zip.NewWriter(sink),
		method:    method,
		selective: z.SelectiveCompression,
	}, nil
}

// zipReader yields entries in central directory order.
type zipReader struct {
	zr       *zip.Reader
	encoding string
	next     int
	cur      io.ReadCloser // open payload of the current entry
}

func (r *zipReader) ReadHeader() (*Entry, error) {
	if r.cur != nil {
		r.cur.Close()
		r.cur = nil
	}

	if r.next >= len(r.zr.File) {
		return nil, io.EOF
	}
	f := r.zr.File[r.next]
	r.next++

	name := f.Name
	if f.NonUTF8 && r.encoding != "" {
		name = decodeText(name, r.encoding)
	}

	e := NewEntry(f.FileInfo(), "")
	e.Path = name
	e.ModTime = f.Modified

	switch e.Kind {
	case KindSymlink:
		// the link target is stored as the file content
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: zip: opening %s: %v", ErrMalformed, f.Name, err)
		}
		target, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: zip: reading link target of %s: %v", ErrMalformed, f.Name, err)
		}
		e.LinkTarget = string(target)
		e.Size = 0
	case KindRegular, KindOther:
		e.Size = int64(f.UncompressedSize64)
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: zip: opening %s: %v", ErrMalformed, f.Name, err)
		}
		r.cur = rc
	}

	return e, nil
}

func (r *zipReader) ReadData(p []byte) (int, error) {
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

func (r *zipReader) SkipData() error {
	// payloads are addressed through the central directory, so there is
	// nothing to discard beyond the open reader
	if r.cur != nil {
		r.cur.Close()
		r.cur = nil
	}
	return nil
}

type zipWriter struct {
	zw        *zip.Writer
	method    uint16
	selective bool
	cur       io.Writer // payload writer of the open entry
}

func (w *zipWriter) WriteHeader(e *Entry) error {
	hdr := &zip.FileHeader{
		Name:     e.Path,
		Modified: e.ModTime,
		Method:   w.method,
	}
	hdr.SetMode(e.FileInfo().Mode())

	if e.IsDir() {
		if !strings.HasSuffix(hdr.Name, "/") {
			hdr.Name += "/" // required
		}
		hdr.Method = zip.Store
	} else if w.selective {
		// only enable compression on compressable files
		if _, ok := compressedFormats[strings.ToLower(path.Ext(hdr.Name))]; ok {
			hdr.Method = zip.Store
		}
	}

	fw, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return err
	}

	// link targets are stored as the file content
	if e.Kind == KindSymlink || e.Kind == KindHardlink {
		if _, err := io.WriteString(fw, e.LinkTarget); err != nil {
			return err
		}
		return nil
	}

	w.cur = fw

	return nil
}

func (w *zipWriter) WriteData(p []byte) (int, error) {
	if w.cur == nil {
		return 0, fmt.Errorf("zip: entry carries no payload: %w", ErrInvalidState)
	}
	return w.cur.Write(p)
}

func (w *zipWriter) FinishEntry() error {
	// archive/zip finalizes the local record on the next header or close
	w.cur = nil
	return nil
}

func (w *zipWriter) Close() error {
	return w.zw.Close()
}

// decodeText converts s from the named IANA character set to UTF-8,
// returning it unchanged when the charset is unknown or does not apply.
func decodeText(s, charset string) string {
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return s
	}

	if out, err := enc.NewDecoder().String(s); err == nil {
		return out
	}

	return s
}
