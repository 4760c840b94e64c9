package cid

import "testing"

func TestNewIsValid(t *testing.T) {
	c := New()
	if !Valid(c) {
		t.Fatalf("New() produced invalid cid: %q", c)
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		c := New()
		if seen[c] {
			t.Fatalf("duplicate cid generated: %q", c)
		}
		seen[c] = true
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"well-formed", "20260729-142233-1234-deadbeef", true},
		{"empty", "", false},
		{"path traversal", "../../etc/passwd", false},
		{"missing suffix", "20260729-142233-1234", false},
		{"uppercase hex", "20260729-142233-1234-DEADBEEF", false},
		{"trailing slash", "20260729-142233-1234-deadbeef/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.in); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
