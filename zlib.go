package arc

import (
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// Zlib facilitates zlib compression.
type Zlib struct {
	CompressionLevel int
}

// valid zlib header pairs: 0x78 followed by a defined FLG byte.
// A single-byte check would shadow formats whose first payload byte
// happens to be 'x'.
var zlibFlg = map[byte]struct{}{
	0x01: {},
	0x5e: {},
	0x9c: {},
	0xda: {},
}

// Interface guards
var _ Filter = (*Zlib)(nil)

func init() {
	RegisterFilter(Zlib{})
}

func (Zlib) Name() string {
	return ".zz"
}

func (zz Zlib) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if strings.Contains(strings.ToLower(filename), zz.Name()) {
		mr.ByName = true
	}

	// match file header
	buf, err := readAtMost(stream, 2)
	if err != nil {
		return mr, err
	}

	if len(buf) == 2 && buf[0] == 0x78 {
		_, ok := zlibFlg[buf[1]]
		mr.ByStream = ok
	}

	return mr, nil
}

func (Zlib) OpenReader(r io.Reader) (io.ReadCloser, error) {
	return zlib.NewReader(r)
}

func (zz Zlib) OpenWriter(w io.Writer) (io.WriteCloser, error) {
	level := zz.CompressionLevel
	if level == 0 {
		level = zlib.DefaultCompression
	}

	return zlib.NewWriterLevel(w, level)
}
