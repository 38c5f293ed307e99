package clipboard

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestCopyEmptyContent(t *testing.T) {
	if _, err := Copy(""); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestOSC52Sequence(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("hello"))

	seq := osc52Sequence(encoded, false)
	if !strings.HasPrefix(seq, "\x1b]52;c;") || !strings.HasSuffix(seq, "\x07") {
		t.Errorf("plain sequence malformed: %q", seq)
	}
	if !strings.Contains(seq, encoded) {
		t.Error("sequence missing payload")
	}

	wrapped := osc52Sequence(encoded, true)
	if !strings.HasPrefix(wrapped, "\x1bPtmux;") || !strings.HasSuffix(wrapped, "\x1b\\") {
		t.Errorf("tmux passthrough malformed: %q", wrapped)
	}
}

func TestCountLines(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"one", 1},
		{"one\n", 1},
		{"one\ntwo", 2},
		{"one\ntwo\n", 2},
	}
	for _, tc := range cases {
		if got := countLines(tc.text); got != tc.want {
			t.Errorf("countLines(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
