package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "DZ"

// NormalizeE164 formats a phone number to E.164, assuming Algerian numbers
// when no country code is present. If parsing fails, it returns the trimmed
// input stripped to digits so comparisons still have a stable form.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return digits(trimmed)
	}

	if !phonenumbers.IsValidNumber(number) {
		return digits(trimmed)
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// Same reports whether two raw phone numbers refer to the same line once
// normalized. Empty numbers never match.
func Same(a, b string) bool {
	na := NormalizeE164(a)
	nb := NormalizeE164(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
