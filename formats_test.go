package arc

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestRewindReader(t *testing.T) {
	data := "the header\nthe body\n"

	r := newRewindReader(strings.NewReader(data))

	buf := make([]byte, 10) // enough for 'the header'

	// test rewinding reads
	for i := 0; i < 10; i++ {
		r.rewind()
		n, err := r.Read(buf)
		if err != nil {
			t.Fatalf("Read failed: %s", err)
		}
		if string(buf[:n]) != "the header" {
			t.Fatalf("iteration %d: expected 'the header' but got '%s' (n=%d)", i, string(buf[:n]), n)
		}
	}

	// get the reader from header reader and make sure we can read all of the data out
	r.rewind()
	finalReader := r.reader()
	buf = make([]byte, len(data))
	n, err := io.ReadFull(finalReader, buf)
	if err != nil {
		t.Fatalf("ReadFull failed: %s (n=%d)", err, n)
	}

	if string(buf) != data {
		t.Fatalf("expected '%s' but got '%s'", string(data), string(buf))
	}
}

func TestIdentifyFormatByStream(t *testing.T) {
	for _, tc := range []struct {
		name    string
		archive []byte
		format  string
		filters []string
	}{
		{
			name:    "plain tar",
			archive: buildArchive(t, Tar{}, nil, testEntries()),
			format:  ".tar",
		},
		{
			name:    "plain cpio",
			archive: buildArchive(t, Cpio{}, nil, testEntries()),
			format:  ".cpio",
		},
		{
			name:    "plain zip",
			archive: buildArchive(t, Zip{}, nil, testEntries()),
			format:  ".zip",
		},
		{
			name:    "tar.gz",
			archive: buildArchive(t, Tar{}, []Filter{Gz{}}, testEntries()),
			format:  ".tar",
			filters: []string{".gz"},
		},
		{
			name:    "tar.bz2.gz stack",
			archive: buildArchive(t, Tar{}, []Filter{Gz{}, Bz2{}}, testEntries()),
			format:  ".tar",
			filters: []string{".gz", ".bz2"},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			format, chain, _, err := Identify("", bytes.NewReader(tc.archive))
			if err != nil {
				t.Fatalf("Identify failed: %s", err)
			}
			if format.Name() != tc.format {
				t.Errorf("want format %s, got %s", tc.format, format.Name())
			}
			if len(chain) != len(tc.filters) {
				t.Fatalf("want %d filters, got %d", len(tc.filters), len(chain))
			}
			for i, f := range chain {
				if f.Name() != tc.filters[i] {
					t.Errorf("filter %d: want %s, got %s", i, tc.filters[i], f.Name())
				}
			}
		})
	}
}

func TestIdentifyUnknownFormat(t *testing.T) {
	_, _, _, err := Identify("", bytes.NewReader(make([]byte, 1024)))
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("want ErrUnknownFormat, got %v", err)
	}
}

func TestIdentifySmallContent(t *testing.T) {
	// tiny or empty streams must not be mistaken for an archive
	for _, data := range [][]byte{nil, {0x00}, []byte("hi")} {
		if _, _, _, err := Identify("", bytes.NewReader(data)); !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("input %v: want ErrUnknownFormat, got %v", data, err)
		}
	}
}

func TestIdentifyByFilename(t *testing.T) {
	// name hints resolve the format when the stream is withheld
	format, _, _, err := Identify("backup.tar", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Identify failed: %s", err)
	}
	if format.Name() != ".tar" {
		t.Errorf("want .tar, got %s", format.Name())
	}
}
