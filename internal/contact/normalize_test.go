package contact

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		country string
		want    string
	}{
		{"already international", "+49 171 2345678", "49", "+491712345678"},
		{"double zero prefix", "0049 171 2345678", "49", "+491712345678"},
		{"national with trunk zero", "0171 234-5678", "49", "+491712345678"},
		{"formatting stripped", "(0171) 234 56 78", "49", "+491712345678"},
		{"country code already present", "491712345678", "49", "+491712345678"},
		{"no country code configured", "0171 2345678", "", "+01712345678"},
		{"plus country code configured", "0171 2345678", "+49", "+491712345678"},
		{"empty", "   ", "49", ""},
		{"no digits", "call me", "49", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePhone(tt.raw, tt.country); got != tt.want {
				t.Errorf("NormalizePhone(%q, %q) = %q, want %q", tt.raw, tt.country, got, tt.want)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{" Jane.Doe@Example.COM ", "jane.doe@example.com"},
		{"not-an-email", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeEmail(tt.raw); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	if got := NormalizeName("  Jane   DOE "); got != "jane doe" {
		t.Errorf("NormalizeName = %q, want %q", got, "jane doe")
	}
}
