package threat

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Category identifies a class of attack pattern
type Category string

const (
	CategorySQLInjection     Category = "sql_injection"
	CategoryXSS              Category = "xss"
	CategoryCommandInjection Category = "command_injection"
	CategoryPathTraversal    Category = "path_traversal"
	CategoryLDAPInjection    Category = "ldap_injection"
)

// Fixed severity weights per category
const (
	WeightSQLInjection     = 8
	WeightXSS              = 7
	WeightCommandInjection = 9
	WeightPathTraversal    = 6
	WeightLDAPInjection    = 5
)

// Signature is one categorized attack pattern: an ordered matcher list, a
// severity weight, and whether a match is a hard stop for the input.
type Signature struct {
	Category Category
	Patterns []*regexp.Regexp
	Weight   int
	Blocking bool
}

// signatureFile is the on-disk shape of a rules file.
type signatureFile struct {
	Signatures []struct {
		Category string   `yaml:"category"`
		Patterns []string `yaml:"patterns"`
		Weight   int      `yaml:"weight"`
		Blocking bool     `yaml:"blocking"`
	} `yaml:"signatures"`
}

var knownCategories = map[Category]bool{
	CategorySQLInjection:     true,
	CategoryXSS:              true,
	CategoryCommandInjection: true,
	CategoryPathTraversal:    true,
	CategoryLDAPInjection:    true,
}

// DefaultSignatures returns the built-in signature table. The list order is the
// evaluation order; within a category the first matching pattern wins.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Category: CategorySQLInjection,
			Weight:   WeightSQLInjection,
			Blocking: true,
			Patterns: compile(
				`(?i)(\b(union|select|insert|update|delete|drop|create|alter|truncate)\b.*\b(from|into|table|database)\b)`,
				`(?i)('\s*(or|and)\s+['\d])`,
				`(?i)(;\s*(drop|delete|truncate|update)\b)`,
				`(?i)(\b(exec|execute)\s*\()`,
				`(--|#|/\*)`,
				`(?i)('\s*;\s*)`,
			),
		},
		{
			Category: CategoryXSS,
			Weight:   WeightXSS,
			Blocking: true,
			Patterns: compile(
				`(?i)<\s*script[^>]*>`,
				`(?i)<\s*/\s*script\s*>`,
				`(?i)\bjavascript\s*:`,
				`(?i)\bon(load|error|click|mouseover|focus|blur)\s*=`,
				`(?i)<\s*(iframe|object|embed|applet)[^>]*>`,
				`(?i)\bdocument\s*\.\s*(cookie|write|location)`,
				`(?i)\beval\s*\(`,
			),
		},
		{
			Category: CategoryCommandInjection,
			Weight:   WeightCommandInjection,
			Blocking: true,
			Patterns: compile(
				"[;&|`$]\\s*(cat|ls|pwd|whoami|id|uname|rm|mv|cp|chmod|chown|curl|wget|nc|bash|sh)\\b",
				`(?i)\$\(\s*\w+`,
				"`[^`]*`",
				`(?i)\b(cmd|powershell)(\.exe)?\s`,
				`\|\s*(sh|bash)\b`,
			),
		},
		{
			Category: CategoryPathTraversal,
			Weight:   WeightPathTraversal,
			Blocking: false,
			Patterns: compile(
				`\.\.[/\\]`,
				`(?i)%2e%2e(%2f|%5c)`,
				`(?i)\.\.%(2f|5c)`,
				`(?i)(/etc/passwd|/etc/shadow|boot\.ini|win\.ini)`,
			),
		},
		{
			Category: CategoryLDAPInjection,
			Weight:   WeightLDAPInjection,
			Blocking: false,
			Patterns: compile(
				`\(\s*[&|]\s*\(`,
				`\)\s*\(\s*[&|]`,
				`(?i)\(\s*\w+\s*=\s*\*\s*\)`,
				`[()\\]\s*\x00`,
			),
		},
	}
}

// LoadSignatures reads a YAML rules file and returns the compiled table. The
// file fully replaces the defaults; validation rejects unknown categories,
// empty pattern lists, non-positive weights and invalid regexes.
func LoadSignatures(path string) ([]Signature, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signature file: %w", err)
	}

	var file signatureFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse signature file: %w", err)
	}
	if len(file.Signatures) == 0 {
		return nil, fmt.Errorf("signature file %s defines no signatures", path)
	}

	sigs := make([]Signature, 0, len(file.Signatures))
	for i, entry := range file.Signatures {
		cat := Category(entry.Category)
		if !knownCategories[cat] {
			return nil, fmt.Errorf("signature %d: unknown category %q", i, entry.Category)
		}
		if len(entry.Patterns) == 0 {
			return nil, fmt.Errorf("signature %d (%s): empty pattern list", i, entry.Category)
		}
		if entry.Weight <= 0 {
			return nil, fmt.Errorf("signature %d (%s): weight must be positive", i, entry.Category)
		}

		patterns := make([]*regexp.Regexp, 0, len(entry.Patterns))
		for _, p := range entry.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("signature %d (%s): pattern %q: %w", i, entry.Category, p, err)
			}
			patterns = append(patterns, re)
		}

		sigs = append(sigs, Signature{
			Category: cat,
			Patterns: patterns,
			Weight:   entry.Weight,
			Blocking: entry.Blocking,
		})
	}

	return sigs, nil
}

func compile(exprs ...string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		patterns = append(patterns, regexp.MustCompile(e))
	}
	return patterns
}
