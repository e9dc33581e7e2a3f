package arc

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"
)

// Cpio is the portable ASCII ("odc") cpio container format, read and
// written natively. Entries are delimited by a 76-byte octal header; the
// archive ends with an in-band TRAILER!!! record rather than a declared
// count, and payloads are unpadded.
type Cpio struct{}

const (
	cpioHeaderSize = 76
	cpioTrailer    = "TRAILER!!!"

	// mode field file type bits
	cpioTypeMask    = 0o170000
	cpioTypeFifo    = 0o010000
	cpioTypeChar    = 0o020000
	cpioTypeDir     = 0o040000
	cpioTypeBlock   = 0o060000
	cpioTypeRegular = 0o100000
	cpioTypeSymlink = 0o120000
)

// magic number at the beginning of every odc header.
var cpioHeader = []byte("070707")

// Interface guards
var _ Format = (*Cpio)(nil)

func init() {
	RegisterFormat(Cpio{})
}

func (Cpio) Name() string {
	return ".cpio"
}

// CanResume reports that odc headers are self-delimiting, so a reader may
// start at any recorded header boundary.
func (Cpio) CanResume() bool {
	return true
}

func (c Cpio) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if strings.Contains(strings.ToLower(filename), c.Name()) {
		mr.ByName = true
	}

	// match file header
	buf, err := readAtMost(stream, len(cpioHeader))
	if err != nil {
		return mr, err
	}

	mr.ByStream = bytes.Equal(buf, cpioHeader)

	return mr, nil
}

func (Cpio) NewReader(source io.Reader) (FormatReader, error) {
	return &cpioReader{src: source}, nil
}

func (Cpio) NewWriter(sink io.Writer) (FormatWriter, error) {
	return &cpioWriter{dst: sink, ino: 1}, nil
}

type cpioReader struct {
	src    io.Reader
	remain int64 // unread payload bytes of the current entry
}

func (cr *cpioReader) ReadHeader() (*Entry, error) {
	var hdr [cpioHeaderSize]byte

	if _, err := io.ReadFull(cr.src, hdr[:]); err != nil {
		if err == io.EOF {
			// archive ended without a trailer record; tolerated
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated cpio header", ErrMalformed)
	}

	if !bytes.Equal(hdr[:6], cpioHeader) {
		return nil, fmt.Errorf("%w: bad cpio magic", ErrMalformed)
	}

	mode, err := parseCpioOctal(hdr[18:24])
	if err != nil {
		return nil, err
	}
	uid, err := parseCpioOctal(hdr[24:30])
	if err != nil {
		return nil, err
	}
	gid, err := parseCpioOctal(hdr[30:36])
	if err != nil {
		return nil, err
	}
	mtime, err := parseCpioOctal(hdr[48:59])
	if err != nil {
		return nil, err
	}
	namesize, err := parseCpioOctal(hdr[59:65])
	if err != nil {
		return nil, err
	}
	filesize, err := parseCpioOctal(hdr[65:76])
	if err != nil {
		return nil, err
	}

	if namesize <= 0 || namesize > 4096 {
		return nil, fmt.Errorf("%w: implausible cpio name size %d", ErrMalformed, namesize)
	}

	name := make([]byte, namesize)
	if _, err := io.ReadFull(cr.src, name); err != nil {
		return nil, fmt.Errorf("%w: truncated cpio name", ErrMalformed)
	}
	path := strings.TrimRight(string(name), "\x00")

	if path == cpioTrailer {
		return nil, io.EOF
	}

	e := &Entry{
		Path:    path,
		ModTime: time.Unix(mtime, 0),
		Mode:    fs.FileMode(mode) & fs.ModePerm,
		UID:     int(uid),
		GID:     int(gid),
	}

	cr.remain = filesize

	switch mode & cpioTypeMask {
	case cpioTypeRegular:
		e.Kind, e.Size = KindRegular, filesize
	case cpioTypeDir:
		e.Kind = KindDir
		cr.remain = 0
	case cpioTypeSymlink:
		// the link target is stored as the payload
		e.Kind = KindSymlink
		target := make([]byte, filesize)
		if _, err := io.ReadFull(cr.src, target); err != nil {
			return nil, fmt.Errorf("%w: truncated cpio link target", ErrMalformed)
		}
		e.LinkTarget = string(target)
		cr.remain = 0
	case cpioTypeChar, cpioTypeBlock:
		e.Kind = KindDevice
		cr.remain = 0
	case cpioTypeFifo:
		e.Kind = KindFifo
		cr.remain = 0
	default:
		e.Kind, e.Size = KindOther, filesize
	}

	return e, nil
}

func (cr *cpioReader) ReadData(p []byte) (int, error) {
	if cr.remain <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > cr.remain {
		p = p[:cr.remain]
	}

	n, err := cr.src.Read(p)
	cr.remain -= int64(n)

	if err == io.EOF {
		if cr.remain > 0 {
			return n, fmt.Errorf("%w: cpio payload truncated", ErrMalformed)
		}
		err = nil
	}

	return n, err
}

func (cr *cpioReader) SkipData() error {
	n := cr.remain
	cr.remain = 0

	if n == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, cr.src, n); err != nil {
		return fmt.Errorf("%w: cpio entry truncated", ErrMalformed)
	}

	return nil
}

type cpioWriter struct {
	dst io.Writer
	ino int64 // synthetic inode counter, odc requires distinct inodes
}

func (cw *cpioWriter) WriteHeader(e *Entry) error {
	var mode, payload int64
	perm := int64(e.Mode & fs.ModePerm)
	nlink := int64(1)

	switch e.Kind {
	case KindRegular, KindOther:
		mode, payload = cpioTypeRegular|perm, e.Size
	case KindDir:
		mode, nlink = cpioTypeDir|perm, 2
	case KindSymlink:
		mode, payload = cpioTypeSymlink|perm, int64(len(e.LinkTarget))
	case KindDevice:
		mode = cpioTypeChar | perm
	case KindFifo:
		mode = cpioTypeFifo | perm
	case KindHardlink:
		return fmt.Errorf("cpio: hardlink entries are not supported: %s", e.Path)
	}
	if e.Kind != KindRegular && e.Kind != KindOther && e.Size != 0 {
		return fmt.Errorf("cpio: %s entry %s cannot carry payload", e.Kind, e.Path)
	}

	ino := cw.ino
	cw.ino++

	mtime := e.ModTime.Unix()
	if mtime < 0 { // octal fields cannot express pre-epoch times
		mtime = 0
	}

	if err := cw.writeRecord(e.Path, mode, int64(e.UID), int64(e.GID), nlink, mtime, ino, payload); err != nil {
		return err
	}

	// symlink targets live in the payload span
	if e.Kind == KindSymlink {
		if _, err := io.WriteString(cw.dst, e.LinkTarget); err != nil {
			return err
		}
	}

	return nil
}

func (cw *cpioWriter) WriteData(p []byte) (int, error) {
	return cw.dst.Write(p)
}

func (cw *cpioWriter) FinishEntry() error {
	// odc payloads are unpadded
	return nil
}

func (cw *cpioWriter) Close() error {
	return cw.writeRecord(cpioTrailer, 0, 0, 0, 1, 0, 0, 0)
}

func (cw *cpioWriter) writeRecord(name string, mode, uid, gid, nlink, mtime, ino, filesize int64) error {
	// odc has no escape hatch for values beyond its octal field widths,
	// so truncating them would misframe the archive
	for _, f := range []struct {
		field string
		v     int64
		width int
	}{
		{"mode", mode, 6},
		{"uid", uid, 6},
		{"gid", gid, 6},
		{"nlink", nlink, 6},
		{"mtime", mtime, 11},
		{"name size", int64(len(name) + 1), 6},
		{"file size", filesize, 11},
	} {
		if f.v < 0 || f.v >= 1<<uint(3*f.width) {
			return fmt.Errorf("cpio: %s %s %d does not fit in %d octal digits", name, f.field, f.v, f.width)
		}
	}

	hdr := make([]byte, 0, cpioHeaderSize+len(name)+1)
	hdr = append(hdr, cpioHeader...)
	hdr = appendCpioOctal(hdr, 0, 6)                  // dev
	hdr = appendCpioOctal(hdr, ino%(1<<18), 6)        // synthetic, wraps at field capacity
	hdr = appendCpioOctal(hdr, mode, 6)               //
	hdr = appendCpioOctal(hdr, uid, 6)                //
	hdr = appendCpioOctal(hdr, gid, 6)                //
	hdr = appendCpioOctal(hdr, nlink, 6)              //
	hdr = appendCpioOctal(hdr, 0, 6)                  // rdev
	hdr = appendCpioOctal(hdr, mtime, 11)             //
	hdr = appendCpioOctal(hdr, int64(len(name)+1), 6) // namesize, with NUL
	hdr = appendCpioOctal(hdr, filesize, 11)          //
	hdr = append(hdr, name...)
	hdr = append(hdr, 0)

	_, err := cw.dst.Write(hdr)
	return err
}

func parseCpioOctal(b []byte) (int64, error) {
	var v int64
	for _, c := range b {
		if c < '0' || c > '7' {
			return 0, fmt.Errorf("%w: bad octal field %q in cpio header", ErrMalformed, string(b))
		}
		v = v<<3 | int64(c-'0')
	}
	return v, nil
}

func appendCpioOctal(dst []byte, v int64, width int) []byte {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte('0' + v&7)
		v >>= 3
	}
	return append(dst, buf...)
}
