// Package normalizers provides normalization functions for external
// identifier values
package normalizers

import (
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers, keyed by external id type
var registry = make(map[string]Normalizer)

func init() {
	Register("doi", NormalizeDOI)
	Register("ror", NormalizeROR)
	Register("orcid", NormalizeORCID)
	Register("issn", NormalizeISSN)
	Register("issn_l", NormalizeISSN)
	Register("pmid", DigitsOnly)
	Register("pmcid", NormalizePMCID)
	Register("wikidata", NormalizeWikidata)
	Register("grid", Trim)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply normalizes a value by id type. Unknown types get a plain trim, so an
// unrecognized id still round-trips.
func Apply(idType, value string) string {
	fn, ok := registry[strings.ToLower(idType)]
	if !ok {
		return Trim(value)
	}
	return fn(value)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeDOI lowercases a DOI and strips the resolver prefix, leaving the
// bare 10.xxxx/yyyy form.
func NormalizeDOI(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		if strings.HasPrefix(s, prefix) {
			return s[len(prefix):]
		}
	}
	return s
}

// NormalizeROR strips the ror.org host, leaving the bare 9-character id.
func NormalizeROR(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, prefix := range []string{"https://ror.org/", "http://ror.org/", "ror.org/"} {
		if strings.HasPrefix(s, prefix) {
			return s[len(prefix):]
		}
	}
	return s
}

// NormalizeORCID strips the orcid.org host and uppercases the checksum digit,
// leaving the dashed 16-digit form.
func NormalizeORCID(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"https://orcid.org/", "http://orcid.org/", "orcid.org/"} {
		if strings.HasPrefix(lower, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	// The final checksum character can be X and is uppercase by convention.
	return strings.ToUpper(s)
}

// NormalizeISSN uppercases and inserts the middle dash when missing.
func NormalizeISSN(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	bare := strings.ReplaceAll(s, "-", "")
	if len(bare) == 8 {
		return bare[:4] + "-" + bare[4:]
	}
	return s
}

// NormalizePMCID uppercases the PMC prefix and keeps the digits.
func NormalizePMCID(s string) string {
	digits := DigitsOnly(s)
	if digits == "" {
		return strings.TrimSpace(s)
	}
	return "PMC" + digits
}

// NormalizeWikidata strips the wikidata host, leaving the uppercase Q id.
func NormalizeWikidata(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"https://www.wikidata.org/wiki/", "https://www.wikidata.org/entity/", "http://www.wikidata.org/wiki/", "http://www.wikidata.org/entity/"} {
		if strings.HasPrefix(lower, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	return strings.ToUpper(s)
}
