package arc

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWriterSizeContract(t *testing.T) {
	t.Run("overflow", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, Tar{})
		if err != nil {
			t.Fatalf("NewWriter failed: %s", err)
		}

		if err := w.WriteHeader(&Entry{Path: "f", Size: 3, Mode: 0o644}); err != nil {
			t.Fatalf("WriteHeader failed: %s", err)
		}
		if _, err := w.Write([]byte("abcd")); !errors.Is(err, ErrSizeMismatch) {
			t.Fatalf("want ErrSizeMismatch, got %v", err)
		}
	})

	t.Run("underflow", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, Tar{})
		if err != nil {
			t.Fatalf("NewWriter failed: %s", err)
		}

		if err := w.WriteHeader(&Entry{Path: "f", Size: 3, Mode: 0o644}); err != nil {
			t.Fatalf("WriteHeader failed: %s", err)
		}
		if _, err := w.Write([]byte("ab")); err != nil {
			t.Fatalf("Write failed: %s", err)
		}
		if err := w.FinishEntry(); !errors.Is(err, ErrSizeMismatch) {
			t.Fatalf("want ErrSizeMismatch, got %v", err)
		}
		// the failure consumed the entry, so the writer is back between
		// entries and can still emit a trailer
		if err := w.Close(); err != nil {
			t.Fatalf("Close after underflow failed: %s", err)
		}
	})

	t.Run("exact", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, Tar{})
		if err != nil {
			t.Fatalf("NewWriter failed: %s", err)
		}

		if err := w.WriteHeader(&Entry{Path: "f", Size: 3, Mode: 0o644}); err != nil {
			t.Fatalf("WriteHeader failed: %s", err)
		}
		if _, err := w.Write([]byte("abc")); err != nil {
			t.Fatalf("Write failed: %s", err)
		}
		if err := w.FinishEntry(); err != nil {
			t.Fatalf("FinishEntry failed: %s", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close failed: %s", err)
		}
	})

	t.Run("negative size", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, Tar{})
		if err != nil {
			t.Fatalf("NewWriter failed: %s", err)
		}

		if err := w.WriteHeader(&Entry{Path: "f", Size: -1}); !errors.Is(err, ErrSizeMismatch) {
			t.Fatalf("want ErrSizeMismatch, got %v", err)
		}
	})
}

func TestWriterStateMachine(t *testing.T) {
	t.Run("write without header", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, Tar{})
		if err != nil {
			t.Fatalf("NewWriter failed: %s", err)
		}

		if _, err := w.Write([]byte("x")); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Write: want ErrInvalidState, got %v", err)
		}
		if err := w.FinishEntry(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("FinishEntry: want ErrInvalidState, got %v", err)
		}
	})

	t.Run("header while entry open", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, Tar{})
		if err != nil {
			t.Fatalf("NewWriter failed: %s", err)
		}

		if err := w.WriteHeader(&Entry{Path: "a", Size: 1, Mode: 0o644}); err != nil {
			t.Fatalf("WriteHeader failed: %s", err)
		}
		if err := w.WriteHeader(&Entry{Path: "b", Size: 1, Mode: 0o644}); !errors.Is(err, ErrInvalidState) {
			t.Errorf("want ErrInvalidState, got %v", err)
		}
	})

	t.Run("close mid-entry abandons", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, Tar{})
		if err != nil {
			t.Fatalf("NewWriter failed: %s", err)
		}

		if err := w.WriteHeader(&Entry{Path: "a", Size: 4, Mode: 0o644}); err != nil {
			t.Fatalf("WriteHeader failed: %s", err)
		}
		if err := w.Close(); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("want ErrInvalidState, got %v", err)
		}
		// terminal after the abandonment
		if err := w.WriteHeader(&Entry{Path: "b", Size: 0}); !errors.Is(err, ErrInvalidState) {
			t.Errorf("WriteHeader after Close: want ErrInvalidState, got %v", err)
		}
	})

	t.Run("close idempotent", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, Tar{})
		if err != nil {
			t.Fatalf("NewWriter failed: %s", err)
		}

		if err := w.Close(); err != nil {
			t.Fatalf("Close failed: %s", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("second Close failed: %s", err)
		}
		if err := w.WriteHeader(&Entry{Path: "a", Size: 0}); !errors.Is(err, ErrInvalidState) {
			t.Errorf("WriteHeader after Close: want ErrInvalidState, got %v", err)
		}
	})
}

func TestWriterEmptyArchive(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Tar{})
	if err != nil {
		t.Fatalf("NewWriter failed: %s", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %s", err)
	}

	// two zero blocks, nothing else
	if buf.Len() != 1024 {
		t.Errorf("want 1024 trailer bytes, got %d", buf.Len())
	}
	for _, c := range buf.Bytes() {
		if c != 0 {
			t.Fatal("trailer contains non-zero bytes")
		}
	}
}

func TestWriteEntry(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Tar{})
	if err != nil {
		t.Fatalf("NewWriter failed: %s", err)
	}

	if err := w.WriteEntry(&Entry{Path: "f", Size: 5, Mode: 0o644}, strings.NewReader("hello")); err != nil {
		t.Fatalf("WriteEntry failed: %s", err)
	}
	// payload-free kinds take a nil data reader
	if err := w.WriteEntry(&Entry{Path: "d", Kind: KindDir, Mode: 0o755}, nil); err != nil {
		t.Fatalf("WriteEntry failed: %s", err)
	}
	// a short data reader surfaces as a copy failure
	if err := w.WriteEntry(&Entry{Path: "g", Size: 10, Mode: 0o644}, strings.NewReader("short")); err == nil {
		t.Fatal("want error for short payload source")
	}
}

func TestWriteUnsupportedFormats(t *testing.T) {
	for _, format := range []Format{Rar{}, SevenZip{}} {
		var buf bytes.Buffer
		if _, err := NewWriter(&buf, format); !errors.Is(err, ErrWriteUnsupported) {
			t.Errorf("%s: want ErrWriteUnsupported, got %v", format.Name(), err)
		}
	}
}
