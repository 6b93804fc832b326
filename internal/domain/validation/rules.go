package validation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// Rule is the static structural rule set for one input type.
type Rule struct {
	MinLength int
	MaxLength int
	Format    *regexp.Regexp
	Check     func(string) error
	Sanitize  func(string) string
}

var (
	nameFormat  = regexp.MustCompile(`^[\p{L}\s\-'\.]+$`)
	phoneFormat = regexp.MustCompile(`^\+?[\d\s\-().]+$`)
	cardFormat  = regexp.MustCompile(`^[\d\s\-]+$`)

	disallowedTags = regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed|applet|form|meta|link|style)\b[^>]*>`)
	eventAttrs     = regexp.MustCompile(`(?i)\son\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)

	blockedExtensions = []string{
		".exe", ".bat", ".cmd", ".com", ".scr", ".pif",
		".js", ".vbs", ".jar", ".msi", ".dll", ".sh", ".ps1",
	}

	allowedSchemes = map[string]bool{"http": true, "https": true}
)

// Rules returns the per-type rule table. The table is static; callers treat
// it as immutable.
func Rules() map[InputType]Rule {
	return ruleTable
}

var ruleTable = map[InputType]Rule{
	TypeFreeText: {
		MaxLength: 10000,
		Sanitize:  sanitizeText,
	},
	TypeHTML: {
		MaxLength: 50000,
		Sanitize:  SanitizeHTML,
	},
	TypeEmail: {
		MinLength: 3,
		MaxLength: 320,
		Check:     checkEmail,
		Sanitize:  func(s string) string { return strings.ToLower(strings.TrimSpace(s)) },
	},
	TypeCreditCard: {
		MinLength: 12,
		MaxLength: 23,
		Format:    cardFormat,
		Check:     checkLuhn,
		Sanitize:  sanitizeCardNumber,
	},
	TypeFileName: {
		MinLength: 1,
		MaxLength: 255,
		Check:     checkFileName,
		Sanitize:  SanitizeFileName,
	},
	TypeURL: {
		MinLength: 1,
		MaxLength: 2048,
		Check:     checkURL,
		Sanitize:  sanitizeURL,
	},
	TypeJSON: {
		MaxLength: 100000,
		Check:     checkJSON,
		Sanitize:  func(s string) string { return s },
	},
	TypeName: {
		MinLength: 1,
		MaxLength: 100,
		Format:    nameFormat,
		Sanitize:  sanitizeText,
	},
	TypePhone: {
		MinLength: 7,
		MaxLength: 20,
		Format:    phoneFormat,
		Check:     checkPhone,
		Sanitize:  sanitizePhone,
	},
}

// sanitizeText strips angle brackets and quote characters, then trims.
// Stripping runs first so removed quotes cannot expose edge whitespace that
// a second pass would trim; applying the function twice yields the same value.
func sanitizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'', '`':
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// SanitizeHTML strips disallowed markup: dangerous tags and inline event
// handlers. Stripping repeats until a fixed point so that fragments
// reassembled by a removal cannot survive, which also makes the function
// idempotent.
func SanitizeHTML(s string) string {
	for {
		next := disallowedTags.ReplaceAllString(s, "")
		next = eventAttrs.ReplaceAllString(next, "")
		next = strings.ReplaceAll(next, "javascript:", "")
		if next == s {
			return next
		}
		s = next
	}
}

// SanitizeFileName strips path separators and filesystem-unsafe characters.
func SanitizeFileName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func sanitizeCardNumber(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func sanitizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '+' {
			return r
		}
		return -1
	}, s)
}

// sanitizeURL re-serializes the parsed URL, normalizing percent-encoding.
// Parse-then-String is idempotent; unparseable values are left to the
// checker to reject.
func sanitizeURL(s string) string {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return u.String()
}

// checkEmail applies an RFC-lite structure check: exactly one @, bounded
// local and domain parts, dotted domain.
func checkEmail(s string) error {
	s = strings.TrimSpace(s)
	at := strings.Count(s, "@")
	if at != 1 {
		return fmt.Errorf("email must contain exactly one @")
	}
	parts := strings.SplitN(s, "@", 2)
	local, domain := parts[0], parts[1]
	if local == "" || len(local) > 64 {
		return fmt.Errorf("email local part must be 1-64 characters")
	}
	if domain == "" || len(domain) > 255 {
		return fmt.Errorf("email domain must be 1-255 characters")
	}
	if !strings.Contains(domain, ".") {
		return fmt.Errorf("email domain must contain a dot")
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return fmt.Errorf("email domain cannot start or end with a dot")
	}
	if strings.Contains(s, " ") {
		return fmt.Errorf("email cannot contain spaces")
	}
	return nil
}

// checkLuhn validates a card number's checksum over its digits.
func checkLuhn(s string) error {
	digits := sanitizeCardNumber(s)
	if len(digits) < 12 || len(digits) > 19 {
		return fmt.Errorf("card number must contain 12-19 digits")
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	if sum%10 != 0 {
		return fmt.Errorf("card number failed checksum")
	}
	return nil
}

func checkFileName(s string) error {
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, ext := range blockedExtensions {
		if strings.HasSuffix(lower, ext) {
			return fmt.Errorf("file extension %s is not allowed", ext)
		}
	}
	if strings.Contains(s, "..") {
		return fmt.Errorf("file name cannot contain path traversal sequences")
	}
	return nil
}

func checkURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !allowedSchemes[u.Scheme] {
		return fmt.Errorf("URL scheme %q is not allowed", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

func checkJSON(s string) error {
	if !json.Valid([]byte(s)) {
		return fmt.Errorf("invalid JSON document")
	}
	return nil
}

func checkPhone(s string) error {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 7 || digits > 15 {
		return fmt.Errorf("phone number must contain 7-15 digits")
	}
	return nil
}
