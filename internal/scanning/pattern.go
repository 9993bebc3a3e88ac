package scanning

import (
	"context"
	"regexp"
	"strings"

	"github.com/zombor/rx-tracker/internal/catalog"
)

// PatternName is the provider name for pattern matched results
const PatternName = "Pattern Matching"

// patternConfidence is the answer level confidence of a pattern match
const patternConfidence = 0.7

const (
	baseConfidence    = 70
	catalogBonus      = 20
	dosageBonus       = 5
	frequencyBonus    = 3
	durationBonus     = 2
	maxConfidence     = 99
	minMedicineLength = 3
)

const dosageExpr = `(\d+(?:\.\d+)?(?:mg|mcg|g|ml|iu|units?))`

var (
	medicinePatterns = []*regexp.Regexp{
		// <name> <numeric><unit>
		regexp.MustCompile(`(?i)([a-z]+(?:\s+[a-z]+)*)\s+` + dosageExpr),
		// <form-word> <name> <numeric><unit>
		regexp.MustCompile(`(?i)(?:tablet|tab|capsule|cap|syrup|injection)[\s:]*([a-z\s]+?)\s+` + dosageExpr),
	}

	formPrefix = regexp.MustCompile(`(?i)^(?:tablet|tab|capsule|cap|syrup|injection|rx)\b[\s:]*`)

	frequencyPattern = regexp.MustCompile(`(?i)\b(?:(?:once|twice|three times|four times)(?:\s+(?:daily|a day|per day))?|bid|tid|qid|every \d+ hours|daily|morning|evening)\b`)
	durationPattern  = regexp.MustCompile(`(?i)\b(?:\d+\s*(?:days?|weeks?|months?)|as needed|ongoing)\b`)
)

// Lookup resolves a medicine mention to a catalog record
type Lookup interface {
	Resolve(name string) (catalog.Medicine, bool)
}

// PatternMatcher extracts candidates with regular expressions. It needs no
// network and its output is a pure function of the text.
type PatternMatcher struct {
	lookup Lookup
}

// NewPatternMatcher creates a PatternMatcher that scores names found in lookup higher
func NewPatternMatcher(lookup Lookup) *PatternMatcher {
	return &PatternMatcher{lookup: lookup}
}

// isAdministrative reports whether a line holds patient or prescriber details
func isAdministrative(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "patient:") ||
		strings.Contains(lower, "date:") ||
		strings.Contains(lower, "dr.") ||
		len(strings.TrimSpace(line)) < 5
}

// Match scans text line by line and returns deduplicated candidates
func (p *PatternMatcher) Match(text string) []Candidate {
	candidates := []Candidate{}

	for _, line := range strings.Split(text, "\n") {
		if isAdministrative(line) {
			continue
		}

		frequency := frequencyPattern.FindString(line)
		duration := durationPattern.FindString(line)

		for _, pattern := range medicinePatterns {
			for _, m := range pattern.FindAllStringSubmatch(line, -1) {
				name := strings.TrimSpace(formPrefix.ReplaceAllString(strings.TrimSpace(m[1]), ""))
				dosage := strings.TrimSpace(m[2])
				if len(name) < minMedicineLength {
					continue
				}

				c := Candidate{
					Name:           name,
					Dosage:         dosage,
					Frequency:      frequency,
					Duration:       duration,
					SourceProvider: PatternName,
				}

				confidence := baseConfidence
				if p.lookup != nil {
					if rec, ok := p.lookup.Resolve(name); ok {
						c.Name = rec.Name
						c.MedicineID = rec.ID
						confidence += catalogBonus
					}
				}
				if c.Dosage != "" {
					confidence += dosageBonus
				}
				if c.Frequency != "" {
					confidence += frequencyBonus
				}
				if c.Duration != "" {
					confidence += durationBonus
				}
				c.Confidence = float64(min(confidence, maxConfidence))

				candidates = append(candidates, c)
			}
		}
	}

	return Dedupe(candidates)
}

// Fallback returns the pattern match analysis of text, recording reason as the raw analysis
func (p *PatternMatcher) Fallback(text, reason string) *Analysis {
	return &Analysis{
		Medicines:   p.Match(text),
		Confidence:  patternConfidence,
		RawAnalysis: reason,
		Provider:    PatternName,
	}
}

// Analyze implements Analyzer
func (p *PatternMatcher) Analyze(_ context.Context, text string) *Analysis {
	return p.Fallback(text, "Pattern matching only")
}

// Label implements Analyzer
func (p *PatternMatcher) Label() string {
	return PatternName
}

// Dedupe removes candidates whose name equals an earlier one, ignoring case
func Dedupe(candidates []Candidate) []Candidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
