package progress

import (
	"bytes"
	"testing"
)

func TestBarHiddenWhenNotATerminal(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
	}{
		{"requested", true},
		{"not requested", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			b := New(Options{Max: 3, Description: "sweeping", Writer: &buf, Enabled: tt.enabled})
			if b.Enabled() {
				t.Fatal("bar drawn on a non-terminal writer")
			}
			b.Add(2)
			b.Describe("still sweeping")
			b.Finish()
			if buf.Len() != 0 {
				t.Errorf("hidden bar wrote %q", buf.String())
			}
			if b.done != 2 {
				t.Errorf("done = %d, want 2", b.done)
			}
		})
	}
}
