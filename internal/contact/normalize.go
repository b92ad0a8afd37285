package contact

import (
	"strings"
	"unicode"
)

// NormalizePhone strips formatting and applies the tenant country prefix to
// national numbers. Returns "" when no digits remain.
func NormalizePhone(raw, countryCode string) string {
	raw = strings.TrimSpace(raw)
	hadPlus := strings.HasPrefix(raw, "+")

	var digits strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	number := digits.String()
	if number == "" {
		return ""
	}
	// Leading 00 is the international dial prefix.
	if strings.HasPrefix(number, "00") {
		number = strings.TrimPrefix(number, "00")
		hadPlus = true
	}
	countryCode = strings.TrimLeft(strings.TrimSpace(countryCode), "+")
	if !hadPlus && countryCode != "" && !strings.HasPrefix(number, countryCode) {
		// National-format numbers drop the leading trunk zero.
		number = countryCode + strings.TrimPrefix(number, "0")
	}
	return "+" + number
}

// NormalizeEmail lowercases and trims an email address. Returns "" for
// values without an @.
func NormalizeEmail(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if !strings.Contains(raw, "@") {
		return ""
	}
	return raw
}

// NormalizeName collapses whitespace and lowercases a display name for
// comparison. The stored display name keeps its original casing.
func NormalizeName(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}
