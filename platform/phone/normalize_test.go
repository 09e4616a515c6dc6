package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"(212) 867-5309", "+12128675309"},
		{"212-867-5309", "+12128675309"},
		{"+1 212 867 5309", "+12128675309"},
		{"  +12128675309  ", "+12128675309"},
		{"", ""},
		// Unparseable or invalid input passes through untouched so the
		// raw value still lands in the audit trail.
		{"not a number", "not a number"},
		{"123", "123"},
	}
	for _, tt := range tests {
		if got := NormalizeE164(tt.in); got != tt.want {
			t.Errorf("NormalizeE164(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAreaCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+12128675309", "212"},
		{"(206) 867-5309", "206"},
		{"", ""},
		{"garbage", ""},
	}
	for _, tt := range tests {
		if got := AreaCode(tt.in); got != tt.want {
			t.Errorf("AreaCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
