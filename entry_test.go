package arc

import (
	"io/fs"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{in: "plain.txt", want: "plain.txt"},
		{in: "./plain.txt", want: "plain.txt"},
		{in: "/abs/path", want: "abs/path"},
		{in: "dir/", want: "dir"},
		{in: "a//b///c", want: "a/b/c"},
		{in: `win\style\path`, want: "win/style/path"},
		{in: "a/./b/../c", want: "a/c"},
		{in: ".", want: ""},
		{in: "", want: ""},
	} {
		if got := normalizePath(tc.in); got != tc.want {
			t.Errorf("normalizePath(%q): want %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestEntryKindString(t *testing.T) {
	for k, want := range map[EntryKind]string{
		KindRegular:  "regular",
		KindDir:      "directory",
		KindSymlink:  "symlink",
		KindHardlink: "hardlink",
		KindDevice:   "device",
		KindFifo:     "fifo",
		KindOther:    "other",
	} {
		if got := k.String(); got != want {
			t.Errorf("want %s, got %s", want, got)
		}
	}
}

func TestEntryFileInfoRoundTrip(t *testing.T) {
	for _, e := range []Entry{
		{Path: "dir/file.txt", Size: 99, Mode: 0o640, ModTime: time.Unix(1234567890, 0)},
		{Path: "dir", Kind: KindDir, Mode: 0o755, ModTime: time.Unix(1234567890, 0)},
		{Path: "link", Kind: KindSymlink, Mode: 0o777, LinkTarget: "file.txt"},
		{Path: "pipe", Kind: KindFifo, Mode: 0o600},
	} {
		e := e
		info := e.FileInfo()

		if got, want := info.Name(), "file.txt"; e.Kind == KindRegular && got != want {
			t.Errorf("Name: want %s, got %s", want, got)
		}
		if info.Size() != e.Size {
			t.Errorf("%s: want size %d, got %d", e.Path, e.Size, info.Size())
		}
		if info.Mode().Perm() != e.Mode {
			t.Errorf("%s: want perm %o, got %o", e.Path, e.Mode, info.Mode().Perm())
		}
		if info.IsDir() != e.IsDir() {
			t.Errorf("%s: IsDir mismatch", e.Path)
		}
		if info.Sys() != &e {
			t.Errorf("%s: Sys does not return the entry", e.Path)
		}

		// reconstructing from the stat view preserves the classification
		back := NewEntry(info, e.LinkTarget)
		if back.Kind != e.Kind {
			t.Errorf("%s: want kind %s, got %s", e.Path, e.Kind, back.Kind)
		}
		if back.Mode != e.Mode {
			t.Errorf("%s: want mode %o, got %o", e.Path, e.Mode, back.Mode)
		}
		if back.LinkTarget != e.LinkTarget {
			t.Errorf("%s: want target %q, got %q", e.Path, e.LinkTarget, back.LinkTarget)
		}
	}
}

func TestEntryInfoModeBits(t *testing.T) {
	for _, tc := range []struct {
		kind EntryKind
		bit  fs.FileMode
	}{
		{kind: KindDir, bit: fs.ModeDir},
		{kind: KindSymlink, bit: fs.ModeSymlink},
		{kind: KindDevice, bit: fs.ModeDevice},
		{kind: KindFifo, bit: fs.ModeNamedPipe},
		{kind: KindOther, bit: fs.ModeIrregular},
	} {
		e := Entry{Path: "x", Kind: tc.kind, Mode: 0o644}
		if m := e.FileInfo().Mode(); m&tc.bit == 0 {
			t.Errorf("%s: mode %v missing type bit %v", tc.kind, m, tc.bit)
		}
	}

	e := Entry{Path: "x", Mode: 0o644}
	if m := e.FileInfo().Mode(); !m.IsRegular() {
		t.Errorf("regular: mode %v is not regular", m)
	}
}
