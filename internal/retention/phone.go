package retention

import (
	"regexp"
	"strings"
)

var individualChatID = regexp.MustCompile(`^(\d+)@c\.us$`)

// NumberFromChatID extracts the phone number from an individual chat id.
// Group and malformed ids yield ok=false.
func NumberFromChatID(waChatID string) (string, bool) {
	m := individualChatID.FindStringSubmatch(waChatID)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Normalizer completes phone numbers that were stored without country or
// area prefixes, using per-deployment defaults.
type Normalizer struct {
	countryCode string
	areaCode    string
}

func NewNormalizer(countryCode, areaCode string) *Normalizer {
	return &Normalizer{countryCode: countryCode, areaCode: areaCode}
}

// Normalize returns the full international form of a local number.
// Numbers that already carry the country code pass through unchanged;
// 11 digits get the country code, 10 digits the country and default
// area codes. Anything else is left alone.
func (n *Normalizer) Normalize(number string) string {
	switch {
	case strings.HasPrefix(number, n.countryCode):
		return number
	case len(number) == 11:
		return n.countryCode + number
	case len(number) == 10:
		return n.countryCode + n.areaCode + number
	default:
		return number
	}
}
