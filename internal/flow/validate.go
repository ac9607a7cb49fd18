package flow

import "strings"

// digits strips every non-digit rune, so "123.456.789-01" and "12345678901"
// compare equal.
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// validCPF reports whether the input carries exactly 11 digits after
// stripping formatting.
func validCPF(s string) bool {
	return len(digits(s)) == 11
}

// samePhone compares two phone numbers on their digits only.
func samePhone(a, b string) bool {
	da, db := digits(a), digits(b)
	return da != "" && da == db
}

// normalizeChoice lowercases and trims a menu answer.
func normalizeChoice(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
