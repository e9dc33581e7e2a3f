package arc

import (
	"io/fs"
	"path"
	"strings"
	"time"
)

// EntryKind classifies an archive member.
type EntryKind int

const (
	KindRegular EntryKind = iota
	KindDir
	KindSymlink
	KindHardlink
	KindDevice
	KindFifo
	KindOther
)

func (k EntryKind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDir:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindHardlink:
		return "hardlink"
	case KindDevice:
		return "device"
	case KindFifo:
		return "fifo"
	default:
		return "other"
	}
}

// Entry describes one archive member independent of any format's on-disk
// encoding. An Entry is constructed by a FormatReader when a header is
// parsed, or by the caller before a write. It must not be mutated after
// being handed to a Writer.
type Entry struct {
	// Path of the member inside the archive, always '/'-separated.
	Path string

	// Size of the payload in bytes. Must be non-negative for writes;
	// readers report -1 for formats that only delimit the payload
	// in-band, in which case the size is known once the payload has
	// been consumed.
	Size int64

	// ModTime is the modification time, kept with whatever precision
	// the format preserves.
	ModTime time.Time

	// Kind of the member.
	Kind EntryKind

	// Mode holds the permission bits only; the file type lives in Kind.
	Mode fs.FileMode

	// Numeric owner ids and optional names.
	UID, GID     int
	Uname, Gname string

	// LinkTarget is set iff Kind is KindSymlink or KindHardlink.
	LinkTarget string
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Kind == KindDir
}

// FileInfo adapts the entry to fs.FileInfo. Sys() returns the entry itself.
func (e *Entry) FileInfo() fs.FileInfo {
	return entryInfo{e}
}

// NewEntry builds an entry from stat data, the inverse of FileInfo.
// linkTarget may be empty for anything that is not a link.
func NewEntry(info fs.FileInfo, linkTarget string) *Entry {
	e := &Entry{
		Path:       normalizePath(info.Name()),
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Mode:       info.Mode().Perm(),
		LinkTarget: linkTarget,
	}

	switch m := info.Mode(); {
	case m.IsRegular():
		e.Kind = KindRegular
	case m.IsDir():
		e.Kind = KindDir
		e.Size = 0
	case m&fs.ModeSymlink != 0:
		e.Kind = KindSymlink
		e.Size = 0
	case m&fs.ModeDevice != 0 || m&fs.ModeCharDevice != 0:
		e.Kind = KindDevice
		e.Size = 0
	case m&fs.ModeNamedPipe != 0:
		e.Kind = KindFifo
		e.Size = 0
	default:
		e.Kind = KindOther
	}

	return e
}

// normalizePath forces forward slashes and strips any leading "/" or "./"
// so that lookups by name are encoding-agnostic.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")

	if p == "." {
		return ""
	}

	return p
}

type entryInfo struct {
	e *Entry
}

func (i entryInfo) Name() string {
	return path.Base(i.e.Path)
}

func (i entryInfo) Size() int64 {
	return i.e.Size
}

func (i entryInfo) Mode() fs.FileMode {
	m := i.e.Mode & fs.ModePerm

	switch i.e.Kind {
	case KindDir:
		m |= fs.ModeDir
	case KindSymlink:
		m |= fs.ModeSymlink
	case KindDevice:
		m |= fs.ModeDevice
	case KindFifo:
		m |= fs.ModeNamedPipe
	case KindOther:
		m |= fs.ModeIrregular
	}

	return m
}

func (i entryInfo) ModTime() time.Time {
	return i.e.ModTime
}

func (i entryInfo) IsDir() bool {
	return i.e.IsDir()
}

func (i entryInfo) Sys() interface{} {
	return i.e
}
