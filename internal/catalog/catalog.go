// Package catalog holds the per-city jurisdiction configuration: citation
// patterns, mailing addresses, and appeal deadline policy. A Catalog is
// built once at startup, validated in full, and shared read-only across
// all requests. Live replacement means building a new Catalog and swapping
// the pointer; there is no partial hot-patch.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the only catalog file format this build understands.
const SchemaVersion = 1

var ErrCityNotFound = errors.New("city not found in catalog")

// Address is a structured mailing address for a section's appeal office.
// Either every required field is populated or Incomplete is set explicitly;
// an incomplete address blocks fulfillment for the section.
type Address struct {
	Name       string `yaml:"name" json:"name"`
	Line1      string `yaml:"line1" json:"line1"`
	Line2      string `yaml:"line2,omitempty" json:"line2,omitempty"`
	City       string `yaml:"city" json:"city"`
	State      string `yaml:"state" json:"state"`
	Zip        string `yaml:"zip" json:"zip"`
	Incomplete bool   `yaml:"incomplete,omitempty" json:"incomplete,omitempty"`
}

// Complete reports whether the address has every field fulfillment needs.
func (a Address) Complete() bool {
	return !a.Incomplete &&
		a.Name != "" && a.Line1 != "" && a.City != "" && a.State != "" && a.Zip != ""
}

// Pattern is one citation regex with its declared specificity. Higher
// specificity wins ties between cities; equal specificity across cities is
// rejected as ambiguous at resolve time.
type Pattern struct {
	Source          string
	Specificity     int
	Uppercase       bool
	StripSeparators bool

	re *regexp.Regexp
}

// Normalize applies this pattern's normalization rules to a raw citation.
// Trimming is unconditional; case folding and separator stripping are
// per-pattern because conventions differ between jurisdictions.
func (p *Pattern) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if p.Uppercase {
		s = strings.ToUpper(s)
	}
	if p.StripSeparators {
		s = separatorRe.ReplaceAllString(s, "")
	}
	return s
}

var separatorRe = regexp.MustCompile(`[^A-Za-z0-9]`)

// Match reports whether the normalized citation matches this pattern over
// the full string. Partial matches never count.
func (p *Pattern) Match(normalized string) bool {
	return p.re.MatchString(normalized)
}

// PhonePolicy describes whether a section requires a phone confirmation
// step before an appeal is accepted, plus an optional operator note.
type PhonePolicy struct {
	Required bool   `yaml:"required" json:"required"`
	Note     string `yaml:"note,omitempty" json:"note,omitempty"`
}

// Section is an issuing sub-authority within a city (e.g. a transit agency)
// with its own patterns, address, and deadline policy.
type Section struct {
	ID                 string
	Name               string
	Patterns           []*Pattern
	MailingAddress     Address
	AppealDeadlineDays int
	PhoneConfirmation  PhonePolicy
	OnlineAppealURL    string
}

// City is one jurisdiction. Location is resolved at load time.
type City struct {
	ID       string
	Name     string
	Timezone string
	Location *time.Location
	Sections []*Section
}

// Catalog is the immutable set of all configured cities.
type Catalog struct {
	cities []*City
	byID   map[string]*City
}

// Cities returns the configured cities in file order.
func (c *Catalog) Cities() []*City { return c.cities }

// City returns the city with the given ID.
func (c *Catalog) City(id string) (*City, error) {
	city, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCityNotFound, id)
	}
	return city, nil
}

// Section returns the section within a city, or an error naming what is
// missing.
func (c *Catalog) Section(cityID, sectionID string) (*City, *Section, error) {
	city, err := c.City(cityID)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range city.Sections {
		if s.ID == sectionID {
			return city, s, nil
		}
	}
	return nil, nil, fmt.Errorf("section %q not found in city %q", sectionID, cityID)
}

// --- file schema ---

type fileCatalog struct {
	SchemaVersion int        `yaml:"schema_version"`
	Cities        []fileCity `yaml:"cities"`
}

type fileCity struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Timezone string        `yaml:"timezone"`
	Sections []fileSection `yaml:"sections"`
}

type fileSection struct {
	ID                 string        `yaml:"id"`
	Name               string        `yaml:"name"`
	Patterns           []filePattern `yaml:"patterns"`
	MailingAddress     Address       `yaml:"mailing_address"`
	AppealDeadlineDays int           `yaml:"appeal_deadline_days"`
	PhoneConfirmation  PhonePolicy   `yaml:"phone_confirmation"`
	OnlineAppealURL    string        `yaml:"online_appeal_url"`
}

type filePattern struct {
	Regex           string `yaml:"regex"`
	Specificity     int    `yaml:"specificity"`
	Uppercase       *bool  `yaml:"uppercase"`
	StripSeparators bool   `yaml:"strip_separators"`
}

// Load reads and validates a catalog file. Any malformed entry is an error;
// callers are expected to treat a Load failure as fatal so that a corrupt
// configuration never degrades routing silently.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse builds a Catalog from YAML bytes, validating every entry.
func Parse(data []byte) (*Catalog, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	if fc.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported schema_version %d (want %d)", fc.SchemaVersion, SchemaVersion)
	}
	if len(fc.Cities) == 0 {
		return nil, errors.New("catalog has no cities")
	}

	cat := &Catalog{byID: make(map[string]*City)}
	for _, c := range fc.Cities {
		city, err := buildCity(c)
		if err != nil {
			return nil, err
		}
		if _, dup := cat.byID[city.ID]; dup {
			return nil, fmt.Errorf("duplicate city id %q", city.ID)
		}
		cat.byID[city.ID] = city
		cat.cities = append(cat.cities, city)
	}

	warnOverlaps(cat)
	return cat, nil
}

func buildCity(fc fileCity) (*City, error) {
	if fc.ID == "" {
		return nil, errors.New("city with empty id")
	}
	if len(fc.Sections) == 0 {
		return nil, fmt.Errorf("city %q has no sections", fc.ID)
	}
	loc, err := time.LoadLocation(fc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("city %q: invalid timezone %q: %w", fc.ID, fc.Timezone, err)
	}

	city := &City{
		ID:       fc.ID,
		Name:     fc.Name,
		Timezone: fc.Timezone,
		Location: loc,
	}
	seen := make(map[string]bool)
	for _, fs := range fc.Sections {
		sec, err := buildSection(fc.ID, fs)
		if err != nil {
			return nil, err
		}
		if seen[sec.ID] {
			return nil, fmt.Errorf("city %q: duplicate section id %q", fc.ID, sec.ID)
		}
		seen[sec.ID] = true
		city.Sections = append(city.Sections, sec)
	}
	return city, nil
}

func buildSection(cityID string, fs fileSection) (*Section, error) {
	if fs.ID == "" {
		return nil, fmt.Errorf("city %q: section with empty id", cityID)
	}
	if len(fs.Patterns) == 0 {
		return nil, fmt.Errorf("city %q section %q: no citation patterns", cityID, fs.ID)
	}
	if fs.AppealDeadlineDays <= 0 {
		return nil, fmt.Errorf("city %q section %q: appeal_deadline_days must be > 0", cityID, fs.ID)
	}
	if !fs.MailingAddress.Complete() && !fs.MailingAddress.Incomplete {
		return nil, fmt.Errorf("city %q section %q: mailing_address is partially populated; fill it or mark incomplete: true", cityID, fs.ID)
	}

	sec := &Section{
		ID:                 fs.ID,
		Name:               fs.Name,
		MailingAddress:     fs.MailingAddress,
		AppealDeadlineDays: fs.AppealDeadlineDays,
		PhoneConfirmation:  fs.PhoneConfirmation,
		OnlineAppealURL:    fs.OnlineAppealURL,
	}
	for i, fp := range fs.Patterns {
		p, err := buildPattern(fp)
		if err != nil {
			return nil, fmt.Errorf("city %q section %q pattern %d: %w", cityID, fs.ID, i, err)
		}
		sec.Patterns = append(sec.Patterns, p)
	}
	return sec, nil
}

func buildPattern(fp filePattern) (*Pattern, error) {
	if fp.Regex == "" {
		return nil, errors.New("empty regex")
	}
	src := fp.Regex
	// Matches are full-string only; anchor patterns that do not anchor
	// themselves.
	if !strings.HasPrefix(src, "^") {
		src = "^" + src
	}
	if !strings.HasSuffix(src, "$") {
		src += "$"
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", fp.Regex, err)
	}

	upper := true
	if fp.Uppercase != nil {
		upper = *fp.Uppercase
	}
	return &Pattern{
		Source:          src,
		Specificity:     fp.Specificity,
		Uppercase:       upper,
		StripSeparators: fp.StripSeparators,
		re:              re,
	}, nil
}

// warnOverlaps flags identical patterns at equal specificity in different
// cities. The resolver rejects such ties at request time; surfacing them at
// load gives operators a chance to fix the configuration first.
func warnOverlaps(cat *Catalog) {
	type entry struct {
		cityID string
		spec   int
	}
	seen := make(map[string][]entry)
	for _, city := range cat.cities {
		for _, sec := range city.Sections {
			for _, p := range sec.Patterns {
				for _, e := range seen[p.Source] {
					if e.cityID != city.ID && e.spec == p.Specificity {
						slog.Warn("catalog: identical citation pattern at equal specificity in two cities; matching citations will resolve as ambiguous",
							"pattern", p.Source,
							"city_a", e.cityID,
							"city_b", city.ID,
							"specificity", p.Specificity,
						)
					}
				}
				seen[p.Source] = append(seen[p.Source], entry{cityID: city.ID, spec: p.Specificity})
			}
		}
	}
}
