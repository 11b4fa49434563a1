// Package compliance screens outgoing message text for content that must not
// cross the platform boundary: contact details and terms that steer a deal
// off-platform. Detection never blocks a send; callers persist the sanitized
// text and flag the message for review.
package compliance

import (
	"regexp"
	"strings"
)

type CheckResult struct {
	Passed        bool
	DetectedTerms []string
}

// Pattern classes are checked before literal terms so a phone number inside a
// longer sentence is reported as the number itself, not a fragment.
var patterns = []*regexp.Regexp{
	// phone numbers: 10+ digits allowing separators, optional country prefix
	regexp.MustCompile(`\+?\d[\d\s().-]{8,}\d`),
	// email addresses
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
}

var literalTerms = []string{
	"whatsapp",
	"telegram",
	"paypal",
	"venmo",
	"western union",
	"bank transfer",
	"cash in hand",
	"cash only",
	"off-platform",
	"offsite payment",
}

var literalPatterns = compileLiterals(literalTerms)

func compileLiterals(terms []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(terms))
	for _, term := range terms {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(term)))
	}
	return compiled
}

// Check scans content against the lexicon and reports every distinct matched
// term in order of first occurrence. Matching is case-insensitive.
func Check(content string) CheckResult {
	if content == "" {
		return CheckResult{Passed: true}
	}

	seen := make(map[string]struct{})
	detected := make([]string, 0)
	record := func(matches []string) {
		for _, match := range matches {
			normalized := strings.ToLower(strings.TrimSpace(match))
			if normalized == "" {
				continue
			}
			if _, dup := seen[normalized]; dup {
				continue
			}
			seen[normalized] = struct{}{}
			detected = append(detected, normalized)
		}
	}

	for _, pattern := range patterns {
		record(pattern.FindAllString(content, -1))
	}
	for _, pattern := range literalPatterns {
		record(pattern.FindAllString(content, -1))
	}

	return CheckResult{
		Passed:        len(detected) == 0,
		DetectedTerms: detected,
	}
}

// Sanitize masks every matched span with asterisks of equal length. The mask
// character matches no lexicon entry, so Check(Sanitize(x)) always passes.
func Sanitize(content string) string {
	if content == "" {
		return content
	}

	for _, pattern := range patterns {
		content = pattern.ReplaceAllStringFunc(content, mask)
	}
	for _, pattern := range literalPatterns {
		content = pattern.ReplaceAllStringFunc(content, mask)
	}
	return content
}

func mask(match string) string {
	return strings.Repeat("*", len(match))
}
