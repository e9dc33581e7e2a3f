package arc

import (
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// Brotli facilitates brotli compression.
type Brotli struct {
	Quality int
}

// Interface guards
var _ Filter = (*Brotli)(nil)

func init() {
	RegisterFilter(Brotli{})
}

func (Brotli) Name() string {
	return ".br"
}

func (br Brotli) Match(filename string, stream io.Reader) (MatchResult, error) {
	var mr MatchResult

	// match filename
	if strings.Contains(strings.ToLower(filename), br.Name()) {
		mr.ByName = true
	}

	// brotli does not have well-defined file headers, so the stream is
	// never matched; the filter takes part in explicit chains only

	return mr, nil
}

func (br Brotli) OpenWriter(w io.Writer) (io.WriteCloser, error) {
	return brotli.NewWriterLevel(w, br.Quality), nil
}

func (Brotli) OpenReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(brotli.NewReader(r)), nil
}
