// Package citation resolves raw citation numbers against the jurisdiction
// catalog and computes appeal deadlines. Everything here is pure: no I/O,
// no shared mutable state, safe for concurrent use.
package citation

import (
	"github.com/citewise/citewise/internal/catalog"
)

// Error kinds surfaced in a Resolution. These are deterministic input
// errors and are never retried.
const (
	ErrKindEmptyCitation  = "empty_citation"
	ErrKindNoPatternMatch = "no_pattern_match"
	ErrKindAmbiguous      = "ambiguous_citation"
)

// Resolution is the outcome of matching one citation string against the
// catalog. CityMismatch is a soft warning: the citation resolved, but to a
// different city than the caller asserted. On an ambiguous result no city
// or section is returned; the caller must ask the user to disambiguate.
type Resolution struct {
	Valid             bool   `json:"is_valid"`
	CityID            string `json:"city_id,omitempty"`
	SectionID         string `json:"section_id,omitempty"`
	FormattedCitation string `json:"formatted_citation,omitempty"`
	AssertedCityID    string `json:"asserted_city_id,omitempty"`
	DetectedCityID    string `json:"detected_city_id,omitempty"`
	CityMismatch      bool   `json:"city_mismatch"`
	ErrKind           string `json:"error_kind,omitempty"`
}

// Resolver matches citations against an immutable catalog.
type Resolver struct {
	catalog *catalog.Catalog
}

func NewResolver(cat *catalog.Catalog) *Resolver {
	return &Resolver{catalog: cat}
}

type candidate struct {
	cityID     string
	sectionID  string
	pattern    *catalog.Pattern
	normalized string
}

// Resolve matches raw against every catalog pattern. If assertedCity is
// non-empty, that city's sections are tried first; when nothing matches
// there the full catalog is consulted so that a mismatch can be reported
// instead of a flat rejection.
func (r *Resolver) Resolve(raw, assertedCity string) Resolution {
	if isBlank(raw) {
		return Resolution{ErrKind: ErrKindEmptyCitation, AssertedCityID: assertedCity}
	}

	if assertedCity != "" {
		if city, err := r.catalog.City(assertedCity); err == nil {
			if res, ok := r.pick(matchCity(city, raw), assertedCity); ok {
				return res
			}
		}
	}

	var matches []candidate
	for _, city := range r.catalog.Cities() {
		matches = append(matches, matchCity(city, raw)...)
	}
	res, ok := r.pick(matches, assertedCity)
	if !ok {
		return Resolution{ErrKind: ErrKindNoPatternMatch, AssertedCityID: assertedCity}
	}
	return res
}

// matchCity evaluates every pattern of every section in one city. Each
// pattern normalizes the input under its own rules before the full-string
// match.
func matchCity(city *catalog.City, raw string) []candidate {
	var out []candidate
	for _, sec := range city.Sections {
		for _, p := range sec.Patterns {
			n := p.Normalize(raw)
			if n == "" {
				continue
			}
			if p.Match(n) {
				out = append(out, candidate{
					cityID:     city.ID,
					sectionID:  sec.ID,
					pattern:    p,
					normalized: n,
				})
			}
		}
	}
	return out
}

// pick applies the tie-break policy: asserted city first, then highest
// specificity, then a hard ambiguity rejection. It never lets catalog
// iteration order decide a winner.
func (r *Resolver) pick(matches []candidate, assertedCity string) (Resolution, bool) {
	if len(matches) == 0 {
		return Resolution{}, false
	}

	if assertedCity != "" {
		var inCity []candidate
		for _, m := range matches {
			if m.cityID == assertedCity {
				inCity = append(inCity, m)
			}
		}
		if len(inCity) > 0 {
			matches = inCity
		}
	}

	best := matches[0]
	tied := false
	for _, m := range matches[1:] {
		switch {
		case m.pattern.Specificity > best.pattern.Specificity:
			best = m
			tied = false
		case m.pattern.Specificity == best.pattern.Specificity:
			// Same section matching via two patterns is fine; two
			// different destinations at equal rank is not.
			if m.cityID != best.cityID || m.sectionID != best.sectionID {
				tied = true
			}
		}
	}
	if tied {
		return Resolution{
			ErrKind:        ErrKindAmbiguous,
			AssertedCityID: assertedCity,
		}, true
	}

	res := Resolution{
		Valid:             true,
		CityID:            best.cityID,
		SectionID:         best.sectionID,
		FormattedCitation: best.normalized,
		AssertedCityID:    assertedCity,
		DetectedCityID:    best.cityID,
	}
	if assertedCity != "" && best.cityID != assertedCity {
		res.CityMismatch = true
	}
	return res, true
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
