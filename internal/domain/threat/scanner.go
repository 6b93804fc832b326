package threat

import (
	"fmt"
	"regexp"
	"unicode"
)

// Heuristic weights applied independently of category matches
const (
	maxInputLength      = 10000
	longInputWeight     = 2
	encodingWeight      = 4
	controlCharWeight   = 3
	encodingRepeatLimit = 5
)

// ScanResult is the outcome of scanning one input string. A zero value means
// the input matched nothing.
type ScanResult struct {
	RiskScore int
	Warnings  []string
	Threats   []Category
	Blocked   bool
}

// Scanner evaluates input strings against the signature table. Safe for
// unsynchronized concurrent use; the table is immutable after construction.
type Scanner struct {
	signatures []Signature
	encodings  []*regexp.Regexp
}

// encoding patterns counted for the repeated-escape heuristic: URL escapes,
// unicode escapes, hex escapes, HTML entities.
var encodingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`%[0-9a-fA-F]{2}`),
	regexp.MustCompile(`\\u[0-9a-fA-F]{4}`),
	regexp.MustCompile(`\\x[0-9a-fA-F]{2}`),
	regexp.MustCompile(`&#?\w+;`),
}

// NewScanner builds a scanner over the given signature table. Pass
// DefaultSignatures() unless a rules file overrides them.
func NewScanner(signatures []Signature) *Scanner {
	return &Scanner{
		signatures: signatures,
		encodings:  encodingPatterns,
	}
}

// Scan tests the input against every signature category and the standalone
// heuristics. It never fails: an input matching nothing yields a zero result.
func (s *Scanner) Scan(input string) ScanResult {
	result := ScanResult{}
	if input == "" {
		return result
	}

	for _, sig := range s.signatures {
		for _, pattern := range sig.Patterns {
			if pattern.MatchString(input) {
				result.Threats = append(result.Threats, sig.Category)
				result.RiskScore += sig.Weight
				if sig.Blocking {
					result.Blocked = true
				} else {
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("suspicious %s pattern detected", sig.Category))
				}
				break
			}
		}
	}

	if len(input) > maxInputLength {
		result.RiskScore += longInputWeight
		result.Warnings = append(result.Warnings, "input exceeds maximum expected length")
	}

	for _, enc := range s.encodings {
		if len(enc.FindAllStringIndex(input, encodingRepeatLimit+1)) > encodingRepeatLimit {
			result.RiskScore += encodingWeight
			result.Warnings = append(result.Warnings, "potential encoding attack")
			break
		}
	}

	if containsControlChars(input) {
		result.RiskScore += controlCharWeight
		result.Warnings = append(result.Warnings, "input contains non-printable characters")
	}

	return result
}

// HasThreat reports whether the result detected the given category.
func (r ScanResult) HasThreat(cat Category) bool {
	for _, c := range r.Threats {
		if c == cat {
			return true
		}
	}
	return false
}

func containsControlChars(input string) bool {
	for _, r := range input {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
