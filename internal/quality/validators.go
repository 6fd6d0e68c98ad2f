package quality

import (
	"encoding/json"
	"strings"

	"github.com/fairyhunter13/provider-cascade/internal/quality/tokencount"
)

// Default point allocations. The bounded shares keep any single check from
// dominating the composite score.
const (
	LengthPoints    = 40
	StructurePoints = 30
	DiversityPoints = 15
	MarkerPoints    = 15
)

// LengthValidator awards up to LengthPoints for character-length adequacy:
// zero below Min, full credit at or above Ideal, linear in between.
type LengthValidator struct {
	Min   int
	Ideal int
}

// NewLengthValidator creates a length-adequacy check.
func NewLengthValidator(min, ideal int) *LengthValidator {
	if ideal < min {
		ideal = min
	}
	return &LengthValidator{Min: min, Ideal: ideal}
}

// Name implements Validator.
func (v *LengthValidator) Name() string { return "length_adequacy" }

// MaxPoints implements Validator.
func (v *LengthValidator) MaxPoints() int { return LengthPoints }

// Check implements Validator.
func (v *LengthValidator) Check(raw string) (int, bool) {
	n := len(strings.TrimSpace(raw))
	if n < v.Min {
		return 0, false
	}
	if n >= v.Ideal || v.Ideal == v.Min {
		return LengthPoints, true
	}
	points := LengthPoints * (n - v.Min) / (v.Ideal - v.Min)
	return points, true
}

// TokenLengthValidator awards up to LengthPoints based on tokenizer-counted
// length; generated text that decodes to too few tokens is likely a refusal
// or truncation.
type TokenLengthValidator struct {
	Min     int
	Ideal   int
	Model   string
	counter *tokencount.Counter
}

// NewTokenLengthValidator creates a token-based length-adequacy check for a
// model family.
func NewTokenLengthValidator(min, ideal int, model string) *TokenLengthValidator {
	if ideal < min {
		ideal = min
	}
	return &TokenLengthValidator{Min: min, Ideal: ideal, Model: model, counter: tokencount.DefaultCounter}
}

// Name implements Validator.
func (v *TokenLengthValidator) Name() string { return "token_length_adequacy" }

// MaxPoints implements Validator.
func (v *TokenLengthValidator) MaxPoints() int { return LengthPoints }

// Check implements Validator.
func (v *TokenLengthValidator) Check(raw string) (int, bool) {
	n := v.counter.CountTokens(raw, v.Model)
	if n < v.Min {
		return 0, false
	}
	if n >= v.Ideal || v.Ideal == v.Min {
		return LengthPoints, true
	}
	points := LengthPoints * (n - v.Min) / (v.Ideal - v.Min)
	return points, true
}

// JSONStructureValidator awards StructurePoints when output parses as JSON,
// half credit when it merely carries JSON-like braces, and nothing
// otherwise.
type JSONStructureValidator struct{}

// NewJSONStructureValidator creates a structural-signal check for
// JSON-shaped generative output.
func NewJSONStructureValidator() *JSONStructureValidator { return &JSONStructureValidator{} }

// Name implements Validator.
func (v *JSONStructureValidator) Name() string { return "json_structure" }

// MaxPoints implements Validator.
func (v *JSONStructureValidator) MaxPoints() int { return StructurePoints }

// Check implements Validator.
func (v *JSONStructureValidator) Check(raw string) (int, bool) {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) && (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) {
		return StructurePoints, true
	}
	if strings.Contains(trimmed, "{") && strings.Contains(trimmed, "}") {
		return StructurePoints / 2, false
	}
	return 0, false
}

// SearchResultsValidator awards StructurePoints when output is a JSON array
// of result objects with at least MinCount entries after de-duplicating by
// URL.
type SearchResultsValidator struct {
	MinCount int
}

// NewSearchResultsValidator creates a result-set check for web search
// output.
func NewSearchResultsValidator(minCount int) *SearchResultsValidator {
	if minCount < 1 {
		minCount = 1
	}
	return &SearchResultsValidator{MinCount: minCount}
}

// Name implements Validator.
func (v *SearchResultsValidator) Name() string { return "search_results" }

// MaxPoints implements Validator.
func (v *SearchResultsValidator) MaxPoints() int { return StructurePoints }

// Check implements Validator.
func (v *SearchResultsValidator) Check(raw string) (int, bool) {
	var items []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return 0, false
	}
	seen := make(map[string]struct{}, len(items))
	unique := 0
	for _, it := range items {
		if it.URL == "" {
			continue
		}
		if _, dup := seen[it.URL]; dup {
			continue
		}
		seen[it.URL] = struct{}{}
		unique++
	}
	if unique >= v.MinCount {
		return StructurePoints, true
	}
	if unique > 0 {
		return StructurePoints * unique / v.MinCount, false
	}
	return 0, false
}

// MarkupResidueValidator awards StructurePoints when extracted text carries
// little residual HTML markup; heavy tag residue means extraction failed to
// separate text from structure.
type MarkupResidueValidator struct{}

// NewMarkupResidueValidator creates a text/markup ratio check for extracted
// content.
func NewMarkupResidueValidator() *MarkupResidueValidator { return &MarkupResidueValidator{} }

// Name implements Validator.
func (v *MarkupResidueValidator) Name() string { return "markup_residue" }

// MaxPoints implements Validator.
func (v *MarkupResidueValidator) MaxPoints() int { return StructurePoints }

// Check implements Validator.
func (v *MarkupResidueValidator) Check(raw string) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	tagChars := 0
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
			tagChars++
		case r == '>':
			inTag = false
			tagChars++
		case inTag:
			tagChars++
		}
	}
	ratio := float64(tagChars) / float64(len(raw))
	switch {
	case ratio <= 0.02:
		return StructurePoints, true
	case ratio <= 0.10:
		return StructurePoints / 2, false
	default:
		return 0, false
	}
}

// LexicalDiversityValidator awards DiversityPoints based on the unique-word
// ratio; near-zero diversity flags repetitive or boilerplate output.
type LexicalDiversityValidator struct {
	MinRatio float64
}

// NewLexicalDiversityValidator creates a lexical-diversity check. minRatio
// is the unique/total word ratio for full credit; values outside (0,1] fall
// back to 0.3.
func NewLexicalDiversityValidator(minRatio float64) *LexicalDiversityValidator {
	if minRatio <= 0 || minRatio > 1 {
		minRatio = 0.3
	}
	return &LexicalDiversityValidator{MinRatio: minRatio}
}

// Name implements Validator.
func (v *LexicalDiversityValidator) Name() string { return "lexical_diversity" }

// MaxPoints implements Validator.
func (v *LexicalDiversityValidator) MaxPoints() int { return DiversityPoints }

// Check implements Validator.
func (v *LexicalDiversityValidator) Check(raw string) (int, bool) {
	words := strings.Fields(strings.ToLower(raw))
	if len(words) == 0 {
		return 0, false
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	ratio := float64(len(seen)) / float64(len(words))
	if ratio >= v.MinRatio {
		return DiversityPoints, true
	}
	return int(float64(DiversityPoints) * ratio / v.MinRatio), false
}

// MarkerAbsenceValidator awards MarkerPoints when none of the configured
// markers appear (case-insensitive). Used for refusal phrases on generated
// text and error-page markers on extracted content.
type MarkerAbsenceValidator struct {
	CheckName string
	Markers   []string
}

// NewMarkerAbsenceValidator creates an explicit marker check.
func NewMarkerAbsenceValidator(name string, markers []string) *MarkerAbsenceValidator {
	return &MarkerAbsenceValidator{CheckName: name, Markers: markers}
}

// Name implements Validator.
func (v *MarkerAbsenceValidator) Name() string { return v.CheckName }

// MaxPoints implements Validator.
func (v *MarkerAbsenceValidator) MaxPoints() int { return MarkerPoints }

// Check implements Validator.
func (v *MarkerAbsenceValidator) Check(raw string) (int, bool) {
	lower := strings.ToLower(raw)
	for _, m := range v.Markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return 0, false
		}
	}
	return MarkerPoints, true
}

// RefusalMarkers are common refusal phrases in generated text.
var RefusalMarkers = []string{
	"i cannot assist",
	"i can't assist",
	"i'm unable to",
	"as an ai language model",
	"i apologize, but i cannot",
}

// ErrorPageMarkers are phrases typical of error pages masquerading as
// content.
var ErrorPageMarkers = []string{
	"404 not found",
	"403 forbidden",
	"access denied",
	"page not found",
	"enable javascript",
	"captcha",
}
