package arc

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

// filter round trips go through a real archive so the whole pipeline is
// exercised: encode chain on write, sniff and decode chain on read.
func TestFilterRoundTrip(t *testing.T) {
	for _, filter := range []Filter{
		Gz{},
		Gz{CompressionLevel: 9, Multithreaded: true},
		Bz2{},
		Xz{},
		Lzma{},
		Zstd{},
		Lz4{},
		Zlib{},
		Sz{},
	} {
		filter := filter
		t.Run(filter.Name(), func(t *testing.T) {
			want := testEntries()
			archive := buildArchive(t, Tar{}, []Filter{filter}, want)

			r, err := NewReader(bytes.NewReader(archive))
			if err != nil {
				t.Fatalf("NewReader failed: %s", err)
			}
			defer r.Close()

			entries, payloads := drainEntries(t, r)
			if len(entries) != len(want) {
				t.Fatalf("want %d entries, got %d", len(want), len(entries))
			}
			for i := range entries {
				if entries[i].Path != want[i].entry.Path {
					t.Errorf("entry %d: want %s, got %s", i, want[i].entry.Path, entries[i].Path)
				}
				if payloads[i] != want[i].data {
					t.Errorf("%s: payload mismatch", entries[i].Path)
				}
			}
		})
	}
}

func TestFilterStacking(t *testing.T) {
	// double compression is pointless but legal; the sniffer must peel the
	// layers outermost first
	want := []testEntry{
		{entry: Entry{Path: "f", Size: 2000, Mode: 0o644}, data: strings.Repeat("stack ", 250) + strings.Repeat("x", 500)},
	}
	archive := buildArchive(t, Tar{}, []Filter{Zstd{}, Gz{}}, want)

	format, chain, _, err := Identify("", bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("Identify failed: %s", err)
	}
	if format.Name() != ".tar" {
		t.Errorf("want .tar, got %s", format.Name())
	}
	if len(chain) != 2 || chain[0].Name() != ".zst" || chain[1].Name() != ".gz" {
		t.Errorf("want chain [.zst .gz], got %v", chainNames(chain))
	}

	r, err := NewReader(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("NewReader failed: %s", err)
	}
	defer r.Close()

	entries, payloads := drainEntries(t, r)
	if len(entries) != 1 || payloads[0] != want[0].data {
		t.Fatal("payload did not survive the filter stack")
	}
}

func TestBrotliExplicitChain(t *testing.T) {
	// brotli streams carry no magic number, so reading takes a pinned chain
	want := testEntries()
	archive := buildArchive(t, Tar{}, []Filter{Brotli{}}, want)

	r, err := NewReader(bytes.NewReader(archive), WithFormat(Tar{}), WithFilters(Brotli{}))
	if err != nil {
		t.Fatalf("NewReader failed: %s", err)
	}
	defer r.Close()

	entries, payloads := drainEntries(t, r)
	if len(entries) != len(want) {
		t.Fatalf("want %d entries, got %d", len(want), len(entries))
	}
	for i := range entries {
		if payloads[i] != want[i].data {
			t.Errorf("%s: payload mismatch", entries[i].Path)
		}
	}
}

func TestFilterMatchRejectsPlain(t *testing.T) {
	plain := buildArchive(t, Tar{}, nil, testEntries())

	for _, filter := range []Filter{Gz{}, Bz2{}, Xz{}, Lzma{}, Zstd{}, Lz4{}, Zlib{}, Sz{}} {
		mr, err := filter.Match("", bytes.NewReader(plain))
		if err != nil && err != io.EOF {
			t.Errorf("%s: Match failed: %s", filter.Name(), err)
			continue
		}
		if mr.ByStream {
			t.Errorf("%s: matched an uncompressed stream", filter.Name())
		}
	}
}

func chainNames(chain []Filter) []string {
	names := make([]string, len(chain))
	for i, f := range chain {
		names[i] = f.Name()
	}
	return names
}
