package nvim

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBufferLines(t *testing.T) {
	tests := []struct {
		content string
		want    [][]byte
	}{
		{"", [][]byte{}},
		{"a\n", [][]byte{[]byte("a")}},
		{"a\nb", [][]byte{[]byte("a"), []byte("b")}},
		{"a\n\n", [][]byte{[]byte("a"), []byte("")}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, bufferLines(tt.content)); diff != "" {
			t.Errorf("bufferLines(%q) mismatch (-want +got):\n%s", tt.content, diff)
		}
	}
}

func TestEscapePath(t *testing.T) {
	if got := escapePath("/tmp/my dir/50%#1.go"); got != `/tmp/my\ dir/50\%\#1.go` {
		t.Errorf("escapePath = %q", got)
	}
}
