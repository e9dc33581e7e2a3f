package arc

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"
)

// Tar is the POSIX ustar container format, read and written natively.
// Entries are framed in 512-byte blocks; numeric header fields are octal
// with the GNU base-256 extension accepted for large sizes on read.
// Modification times carry second precision.
type Tar struct{}

const tarBlockSize = 512 // hard-coded block size of the tar format

// field spans within a ustar header block
const (
	tarName     = 0
	tarMode     = 100
	tarUID      = 108
	tarGID      = 116
	tarSize     = 124
	tarMtime    = 136
	tarChksum   = 148
	tarTypeflag = 156
	tarLinkname = 157
	tarMagic    = 257
	tarUname    = 265
	tarGname    = 297
	tarPrefix   = 345
)

// magic number at offset 257 of ustar header blocks.
var tarHeader = []byte("ustar")

// Interface guards
var _ Format = (*Tar)(nil)

func init() {
	RegisterFormat(Tar{})
}

func (Tar) Name() string {
	return ".tar"
}

// CanResume reports that tar headers are self-delimiting, so a reader may
// start at any recorded header boundary.
func (Tar) CanResume() bool {
	return true
}

func (t Tar) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if strings.Contains(strings.ToLower(filename), t.Name()) {
		mr.ByName = true
	}

	// match file header
	buf, err := readAtMost(stream, tarMagic+len(tarHeader))
	if err != nil {
		return mr, err
	}

	mr.ByStream = len(buf) == tarMagic+len(tarHeader) && bytes.Equal(buf[tarMagic:], tarHeader)

	return mr, nil
}

func (Tar) NewReader(source io.Reader) (FormatReader, error) {
	return &tarReader{src: source}, nil
}

func (Tar) NewWriter(sink io.Writer) (FormatWriter, error) {
	return &tarWriter{dst: sink}, nil
}

type tarReader struct {
	src    io.Reader
	remain int64 // unread payload bytes of the current entry
	pad    int64 // block padding after the payload
}

func (tr *tarReader) ReadHeader() (*Entry, error) {
	var block [tarBlockSize]byte

	if _, err := io.ReadFull(tr.src, block[:]); err != nil {
		if err == io.EOF {
			// stream ended cleanly at a block boundary; tolerate a
			// missing trailer like most tar implementations do
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated tar header", ErrMalformed)
	}

	if isZeroBlock(block[:]) {
		// end of archive; the second zero block may be absent
		io.CopyN(io.Discard, tr.src, tarBlockSize)
		return nil, io.EOF
	}

	e, payload, err := parseTarHeader(block[:])
	if err != nil {
		return nil, err
	}

	tr.remain = payload
	tr.pad = tarPadding(payload)

	return e, nil
}

func (tr *tarReader) ReadData(p []byte) (int, error) {
	if tr.remain <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > tr.remain {
		p = p[:tr.remain]
	}

	n, err := tr.src.Read(p)
	tr.remain -= int64(n)

	if err == io.EOF {
		if tr.remain > 0 {
			return n, fmt.Errorf("%w: tar payload truncated", ErrMalformed)
		}
		err = nil
	}

	return n, err
}

func (tr *tarReader) SkipData() error {
	n := tr.remain + tr.pad
	tr.remain, tr.pad = 0, 0

	if n == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, tr.src, n); err != nil {
		return fmt.Errorf("%w: tar entry truncated", ErrMalformed)
	}

	return nil
}

type tarWriter struct {
	dst io.Writer
	pad int64 // padding owed after the current payload
}

func (tw *tarWriter) WriteHeader(e *Entry) error {
	block, payload, err := buildTarHeader(e)
	if err != nil {
		return err
	}

	if _, err := tw.dst.Write(block); err != nil {
		return err
	}

	tw.pad = tarPadding(payload)

	return nil
}

func (tw *tarWriter) WriteData(p []byte) (int, error) {
	return tw.dst.Write(p)
}

func (tw *tarWriter) FinishEntry() error {
	if tw.pad > 0 {
		if _, err := tw.dst.Write(make([]byte, tw.pad)); err != nil {
			return err
		}
		tw.pad = 0
	}
	return nil
}

func (tw *tarWriter) Close() error {
	// end-of-archive marker is two 512-byte zero blocks
	var trailer [2 * tarBlockSize]byte
	_, err := tw.dst.Write(trailer[:])
	return err
}

func parseTarHeader(b []byte) (*Entry, int64, error) {
	if err := verifyTarChecksum(b); err != nil {
		return nil, 0, err
	}

	mode, err := parseTarNumeric(b[tarMode:tarUID])
	if err != nil {
		return nil, 0, err
	}
	uid, err := parseTarNumeric(b[tarUID:tarGID])
	if err != nil {
		return nil, 0, err
	}
	gid, err := parseTarNumeric(b[tarGID:tarSize])
	if err != nil {
		return nil, 0, err
	}
	size, err := parseTarNumeric(b[tarSize:tarMtime])
	if err != nil {
		return nil, 0, err
	}
	mtime, err := parseTarNumeric(b[tarMtime:tarChksum])
	if err != nil {
		return nil, 0, err
	}

	e := &Entry{
		Path:       tarString(b[tarName : tarName+100]),
		ModTime:    time.Unix(mtime, 0),
		Mode:       fs.FileMode(mode) & fs.ModePerm,
		UID:        int(uid),
		GID:        int(gid),
		LinkTarget: tarString(b[tarLinkname : tarLinkname+100]),
	}

	if bytes.Equal(b[tarMagic:tarMagic+len(tarHeader)], tarHeader) {
		e.Uname = tarString(b[tarUname : tarUname+32])
		e.Gname = tarString(b[tarGname : tarGname+32])
		if prefix := tarString(b[tarPrefix : tarPrefix+155]); prefix != "" {
			e.Path = prefix + "/" + e.Path
		}
	}

	// links, directories, devices and fifos carry no payload regardless
	// of the size field
	payload := size
	switch b[tarTypeflag] {
	case '0', 0, '7':
		e.Kind, e.Size = KindRegular, size
	case '1':
		e.Kind, e.Size, payload = KindHardlink, 0, 0
	case '2':
		e.Kind, e.Size, payload = KindSymlink, 0, 0
	case '3', '4':
		e.Kind, e.Size, payload = KindDevice, 0, 0
	case '5':
		e.Kind, e.Size, payload = KindDir, 0, 0
	case '6':
		e.Kind, e.Size, payload = KindFifo, 0, 0
	default:
		// extension records (pax, GNU long names) keep their payload so
		// framing stays intact even when the metadata is not interpreted
		e.Kind, e.Size = KindOther, size
	}

	if e.Kind != KindSymlink && e.Kind != KindHardlink {
		e.LinkTarget = ""
	}

	return e, payload, nil
}

func buildTarHeader(e *Entry) ([]byte, int64, error) {
	block := make([]byte, tarBlockSize)

	var typeflag byte
	var payload int64
	switch e.Kind {
	case KindRegular, KindOther:
		typeflag, payload = '0', e.Size
	case KindHardlink:
		typeflag = '1'
	case KindSymlink:
		typeflag = '2'
	case KindDevice:
		typeflag = '3'
	case KindDir:
		typeflag = '5'
	case KindFifo:
		typeflag = '6'
	}
	if payload == 0 && e.Size != 0 {
		return nil, 0, fmt.Errorf("tar: %s entry %s cannot carry payload", e.Kind, e.Path)
	}

	name, prefix, err := splitTarPath(e.Path, e.IsDir())
	if err != nil {
		return nil, 0, err
	}

	copy(block[tarName:], name)
	formatTarOctal(block[tarMode:tarUID], int64(e.Mode&fs.ModePerm))
	formatTarNumeric(block[tarUID:tarGID], int64(e.UID))
	formatTarNumeric(block[tarGID:tarSize], int64(e.GID))
	formatTarNumeric(block[tarSize:tarMtime], payload)
	formatTarNumeric(block[tarMtime:tarChksum], e.ModTime.Unix())
	block[tarTypeflag] = typeflag
	copy(block[tarLinkname:], e.LinkTarget)
	copy(block[tarMagic:], "ustar\x0000")
	copy(block[tarUname:], e.Uname)
	copy(block[tarGname:], e.Gname)
	formatTarOctal(block[329:337], 0)
	formatTarOctal(block[337:345], 0)
	copy(block[tarPrefix:], prefix)

	writeTarChecksum(block)

	return block, payload, nil
}

// splitTarPath splits a long path across the name and prefix fields.
func splitTarPath(p string, dir bool) (name, prefix string, err error) {
	if dir && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	if len(p) <= 100 {
		return p, "", nil
	}

	bound := len(p)
	if bound > 156 {
		bound = 156
	}
	k := strings.LastIndexByte(p[:bound], '/')
	if k <= 0 || len(p)-k-1 > 100 {
		return "", "", fmt.Errorf("tar: path too long: %s", p)
	}

	return p[k+1:], p[:k], nil
}

// parseTarNumeric decodes an octal field, or GNU base-256 when the high
// bit of the first byte is set.
func parseTarNumeric(b []byte) (int64, error) {
	if len(b) > 0 && b[0]&0x80 != 0 {
		var v int64
		v = int64(b[0] & 0x3f)
		for _, c := range b[1:] {
			v = v<<8 | int64(c)
		}
		return v, nil
	}

	s := strings.Trim(string(b), " \x00")
	if s == "" {
		return 0, nil
	}

	var v int64
	for _, c := range s {
		if c < '0' || c > '7' {
			return 0, fmt.Errorf("%w: bad octal field %q in tar header", ErrMalformed, s)
		}
		v = v<<3 | int64(c-'0')
	}

	return v, nil
}

// formatTarNumeric writes v in octal, falling back to GNU base-256 when
// the value does not fit the field. Octal fields hold len(b)-1 digits, so
// silently dropping the high bits would misframe the archive.
func formatTarNumeric(b []byte, v int64) {
	if v < 0 { // neither encoding carries a sign here
		v = 0
	}
	if v < 1<<uint(3*(len(b)-1)) {
		formatTarOctal(b, v)
		return
	}

	for i := len(b) - 1; i > 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	b[0] = byte(v)&0x3f | 0x80
}

// formatTarOctal writes v as zero-padded octal with a terminating NUL.
func formatTarOctal(b []byte, v int64) {
	for i := len(b) - 2; i >= 0; i-- {
		b[i] = byte('0' + v&7)
		v >>= 3
	}
	b[len(b)-1] = 0
}

func verifyTarChecksum(b []byte) error {
	declared, err := parseTarNumeric(b[tarChksum : tarChksum+8])
	if err != nil {
		return err
	}

	var unsigned, signed int64
	for i, c := range b {
		if i >= tarChksum && i < tarChksum+8 {
			c = ' ' // checksum field counts as spaces
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}

	if declared != unsigned && declared != signed {
		return fmt.Errorf("%w: tar header checksum mismatch", ErrMalformed)
	}

	return nil
}

func writeTarChecksum(b []byte) {
	copy(b[tarChksum:tarChksum+8], "        ")

	var sum int64
	for _, c := range b {
		sum += int64(c)
	}

	formatTarOctal(b[tarChksum:tarChksum+7], sum)
	b[tarChksum+7] = ' '
}

func tarString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func tarPadding(n int64) int64 {
	return (tarBlockSize - n%tarBlockSize) % tarBlockSize
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
