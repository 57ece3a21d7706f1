package utils

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"x", 0, "x"},
		{"héllo", 2, "h..."},
		{"日本語", 4, "日..."},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.max)
		}
	}
}

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	if n := NormalizeL2(x); n != 5 {
		t.Errorf("norm = %v, want 5", n)
	}
	if x[0] != 0.6 || x[1] != 0.8 {
		t.Errorf("x = %v", x)
	}
	zero := []float32{0, 0}
	if n := NormalizeL2(zero); n != 0 || zero[0] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}
