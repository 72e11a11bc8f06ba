// Package company implements company identity: name and identifier
// normalization, fuzzy duplicate detection and transactional merges.
package company

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/net/idna"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultPhoneRegion is used when a phone number carries no country code.
const DefaultPhoneRegion = "BR"

// TaxIDLength is the number of digits in a canonical tax-registry ID.
const TaxIDLength = 14

var legalSuffixes = map[string]bool{
	"ltda":   true,
	"ltd":    true,
	"inc":    true,
	"llc":    true,
	"corp":   true,
	"co":     true,
	"cia":    true,
	"sa":     true,
	"me":     true,
	"epp":    true,
	"eireli": true,
	"mei":    true,
	"gmbh":   true,
	"plc":    true,
}

var idnaProfile = idna.Lookup

// NormalizeName lower-cases name, strips accents and punctuation, and removes
// trailing legal-entity suffixes. The result is the company identity key.
func NormalizeName(name string) string {
	s := stripAccents(strings.ToLower(strings.TrimSpace(name)))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	tokens := strings.Fields(b.String())

	// "s.a." and "s/a" both split into "s a".
	for len(tokens) > 1 {
		n := len(tokens)
		switch {
		case legalSuffixes[tokens[n-1]]:
			tokens = tokens[:n-1]
		case n > 2 && tokens[n-2] == "s" && tokens[n-1] == "a":
			tokens = tokens[:n-2]
		default:
			return strings.Join(tokens, " ")
		}
	}
	return strings.Join(tokens, " ")
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeTaxID strips everything but digits. It returns "" unless exactly
// TaxIDLength digits remain.
func NormalizeTaxID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() != TaxIDLength {
		return ""
	}
	return b.String()
}

// ValidTaxID reports whether raw normalizes to a tax ID whose two check
// digits are correct.
func ValidTaxID(raw string) bool {
	id := NormalizeTaxID(raw)
	if id == "" {
		return false
	}
	if strings.Count(id, id[:1]) == TaxIDLength {
		return false
	}
	d := make([]int, TaxIDLength)
	for i := range id {
		d[i] = int(id[i] - '0')
	}
	return checkDigit(d[:12]) == d[12] && checkDigit(d[:13]) == d[13]
}

func checkDigit(digits []int) int {
	// Weights cycle 2..9 from the rightmost digit.
	sum, w := 0, 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += digits[i] * w
		w++
		if w > 9 {
			w = 2
		}
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

// FormatTaxID renders a normalized tax ID as 00.000.000/0000-00.
func FormatTaxID(raw string) string {
	id := NormalizeTaxID(raw)
	if id == "" {
		return raw
	}
	return id[0:2] + "." + id[2:5] + "." + id[5:8] + "/" + id[8:12] + "-" + id[12:14]
}

// NormalizeDomain reduces a URL or bare host to its lower-case ASCII
// hostname without "www.". It returns "" for input with no host.
func NormalizeDomain(raw string) string {
	u, err := parseLooseURL(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(strings.Trim(u.Hostname(), "."))
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return ""
	}
	if ascii, err := idnaProfile.ToASCII(host); err == nil {
		host = ascii
	}
	return host
}

// NormalizeSocialURL canonicalizes a social profile URL: https scheme,
// lower-case host without "www.", no query, fragment or trailing slash.
func NormalizeSocialURL(raw string) string {
	u, err := parseLooseURL(raw)
	if err != nil {
		return ""
	}
	host := NormalizeDomain(u.Host)
	if host == "" {
		return ""
	}
	path := strings.TrimRight(strings.ToLower(u.EscapedPath()), "/")
	return "https://" + host + path
}

// NormalizePhone formats raw as E.164, or returns "" when it is not a valid
// number. region defaults to DefaultPhoneRegion.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if region == "" {
		region = DefaultPhoneRegion
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return ""
	}
	if !phonenumbers.IsPossibleNumber(num) || !phonenumbers.IsValidNumber(num) {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func parseLooseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errEmptyURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, errEmptyURL
	}
	return u, nil
}
