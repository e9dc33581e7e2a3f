package arc

import (
	"bytes"
	"io"
	"strings"

	"github.com/ulikunitz/xz"
	fastxz "github.com/xi2/xz"
)

// Xz facilitates xz compression. Decoding handles multistream files.
type Xz struct{}

// magic number at the beginning of xz files.
var xzHeader = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}

// Interface guards
var _ Filter = (*Xz)(nil)

func init() {
	RegisterFilter(Xz{})
}

func (Xz) Name() string {
	return ".xz"
}

func (x Xz) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if strings.Contains(strings.ToLower(filename), x.Name()) {
		mr.ByName = true
	}

	// match file header
	buf, err := readAtMost(stream, len(xzHeader))
	if err != nil {
		return mr, err
	}

	mr.ByStream = bytes.Equal(buf, xzHeader)

	return mr, nil
}

func (Xz) OpenReader(r io.Reader) (io.ReadCloser, error) {
	xr, err := fastxz.NewReader(r, 0)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(xr), nil
}

func (Xz) OpenWriter(w io.Writer) (io.WriteCloser, error) {
	return xz.NewWriter(w)
}
