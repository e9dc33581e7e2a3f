package arc

import (
	"bytes"
	"io"
	"strings"

	"github.com/ulikunitz/xz/lzma"
)

// Lzma facilitates raw LZMA ("alone" format) streams.
type Lzma struct{}

// magic number at the beginning of lzma files.
var lzmaHeader = []byte{0x5d, 0x00, 0x00}

// Interface guards
var _ Filter = (*Lzma)(nil)

func init() {
	RegisterFilter(Lzma{})
}

func (Lzma) Name() string {
	return ".lzma"
}

func (lz Lzma) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if strings.Contains(strings.ToLower(filename), lz.Name()) {
		mr.ByName = true
	}

	// match file header
	buf, err := readAtMost(stream, len(lzmaHeader))
	if err != nil {
		return mr, err
	}

	mr.ByStream = bytes.Equal(buf, lzmaHeader)

	return mr, nil
}

func (Lzma) OpenReader(r io.Reader) (io.ReadCloser, error) {
	lr, err := lzma.NewReader(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(lr), nil
}

func (Lzma) OpenWriter(w io.Writer) (io.WriteCloser, error) {
	return lzma.NewWriter(w)
}
