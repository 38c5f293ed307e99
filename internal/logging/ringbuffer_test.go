package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestRingBufferBasicWrite(t *testing.T) {
	rb := NewRingBuffer(64)

	n, err := rb.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != 5 {
		t.Errorf("expected n=5, got %d", n)
	}
	if got := rb.Bytes(); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("expected 'hello', got %q", got)
	}
}

func TestRingBufferWrapAround(t *testing.T) {
	rb := NewRingBuffer(8)

	rb.Write([]byte("abcdef"))
	rb.Write([]byte("ghij"))

	// Capacity 8, ten bytes written: the oldest two are gone.
	got := string(rb.Bytes())
	if got != "cdefghij" {
		t.Errorf("expected 'cdefghij', got %q", got)
	}
}

func TestRingBufferOversizedWrite(t *testing.T) {
	rb := NewRingBuffer(4)

	rb.Write([]byte("abcdefgh"))

	if got := string(rb.Bytes()); got != "efgh" {
		t.Errorf("expected tail 'efgh', got %q", got)
	}
}

func TestRingBufferChronologicalOrder(t *testing.T) {
	rb := NewRingBuffer(32)

	for _, s := range []string{"one\n", "two\n", "three\n", "four\n", "five\n", "six\n", "seven\n"} {
		rb.Write([]byte(s))
	}

	got := string(rb.Bytes())
	// Later entries must appear after earlier surviving ones.
	if i, j := strings.Index(got, "six"), strings.Index(got, "seven"); i < 0 || j < 0 || i > j {
		t.Errorf("expected six before seven in %q", got)
	}
}
