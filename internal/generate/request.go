package generate

import (
	"errors"
	"regexp"
	"slices"
	"strings"
)

// Style is the narrative tone of a story.
type Style string

const (
	StyleEducatif Style = "Educatif"
	StyleAmusant  Style = "Amusant"
	StyleAventure Style = "Aventure"
	StyleMagique  Style = "Magique"
)

// Universe is the setting of a story.
type Universe string

const (
	UniverseFeerique    Universe = "Féerique"
	UniverseFuturiste   Universe = "Futuriste / SF"
	UniverseDinosaures  Universe = "Dinosaures"
	UniverseAnimaux     Universe = "Animaux"
	UniverseQuotidienne Universe = "Vie quotidienne"
)

var (
	Styles    = []Style{StyleEducatif, StyleAmusant, StyleAventure, StyleMagique}
	Universes = []Universe{UniverseFeerique, UniverseFuturiste, UniverseDinosaures, UniverseAnimaux, UniverseQuotidienne}
	Durations = []int{3, 5, 10}
)

const (
	DefaultMinutes  = 5
	DefaultStyle    = StyleAmusant
	DefaultUniverse = UniverseFeerique

	MaxKeywords      = 10
	maxMoralLen      = 300
	maxProfileLength = 2000
)

var (
	ErrNothingToTell = errors.New("keywords or moral required")
	ErrMoralTooLong  = errors.New("moral too long")
	ErrProfileLength = errors.New("family profile too long")
	ErrInjection     = errors.New("request contains instructions")
)

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`forget\s+(everything|all)|new\s+instructions|` +
		`ignore[sz]?\s+(les\s+)?instructions)`,
)

// Request is the body the upstream story endpoint accepts.
type Request struct {
	Minutes       int      `json:"minutes"`
	Style         Style    `json:"style"`
	Universe      Universe `json:"universe"`
	Keywords      string   `json:"keywords"`
	Moral         string   `json:"moral"`
	FamilyProfile string   `json:"familyProfile,omitempty"`
}

// Normalize coerces every field to an accepted value: unknown durations,
// styles and universes fall back to their defaults, text is trimmed and the
// keyword list is cleaned and capped.
func (r *Request) Normalize() {
	if !slices.Contains(Durations, r.Minutes) {
		r.Minutes = DefaultMinutes
	}
	if !slices.Contains(Styles, r.Style) {
		r.Style = DefaultStyle
	}
	if !slices.Contains(Universes, r.Universe) {
		r.Universe = DefaultUniverse
	}
	r.Keywords = strings.Join(ParseKeywords(r.Keywords), ", ")
	r.Moral = strings.TrimSpace(r.Moral)
	r.FamilyProfile = strings.TrimSpace(r.FamilyProfile)
}

// Validate reports whether the request can produce a story. Call Normalize
// first.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Keywords) == "" && strings.TrimSpace(r.Moral) == "" {
		return ErrNothingToTell
	}
	if len([]rune(r.Moral)) > maxMoralLen {
		return ErrMoralTooLong
	}
	if len([]rune(r.FamilyProfile)) > maxProfileLength {
		return ErrProfileLength
	}
	for _, s := range []string{r.Keywords, r.Moral, r.FamilyProfile} {
		if injectionPattern.MatchString(s) {
			return ErrInjection
		}
	}
	return nil
}

// TargetWords returns the approximate story length for the request.
func (r *Request) TargetWords() int {
	return TargetWords(r.Minutes)
}

// KeywordList returns the cleaned keywords.
func (r *Request) KeywordList() []string {
	return ParseKeywords(r.Keywords)
}

// TargetWords maps a reading duration to a word count at a bedtime pace.
func TargetWords(minutes int) int {
	switch minutes {
	case 3:
		return 380
	case 5:
		return 650
	}
	return 1300
}

// ParseKeywords splits a comma-separated list, trims each entry, drops empty
// ones and keeps at most MaxKeywords.
func ParseKeywords(raw string) []string {
	var out []string
	for _, k := range strings.Split(raw, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, k)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}
