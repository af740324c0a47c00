package api

import "strings"

// DefaultCountryCode is prefixed to bare 10 digit numbers.
const DefaultCountryCode = "91"

// NormalizePhone strips everything but digits and prefixes 10 digit
// numbers with DefaultCountryCode. It returns "" when no digits remain.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		return DefaultCountryCode + digits
	}
	return digits
}

func (s *Server) recipient(raw string) string {
	if !s.opts.NormalizePhones {
		return strings.TrimSpace(raw)
	}
	return NormalizePhone(raw)
}
