package extract

import (
	"regexp"
	"strings"
)

// maxMerchantLen caps the guessed merchant name length.
const maxMerchantLen = 50

// merchantLines is how many lines from the top of the receipt are
// considered. Store names sit in the header; anything further down is
// line items and totals.
const merchantLines = 6

// boilerplatePrefixes are receipt-jargon words that start lines we never
// want as a merchant name. Compared case-insensitively against the start
// of each cleaned line.
var boilerplatePrefixes = []string{
	"kvittering",
	"salgskvittering",
	"receipt",
	"invoice",
	"faktura",
	"kvitto",
	"bong",
	"mva",
	"vat",
	"org.nr",
	"org nr",
	"orgnr",
	"ordre",
	"order",
	"kasse",
	"terminal",
}

var (
	// disallowedChars strips everything outside letters, digits,
	// whitespace and .&'- before a line is judged.
	disallowedChars = regexp.MustCompile(`[^\p{L}\p{N}\s.&'-]`)
	repeatedSpace   = regexp.MustCompile(`\s+`)
	hasLetter       = regexp.MustCompile(`\p{L}`)
	hasDigit        = regexp.MustCompile(`\p{N}`)
	yearPattern     = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
)

// Merchant scans recognized receipt text and returns a best-guess store
// name, possibly empty. The first few lines are cleaned and run through a
// filter pipeline; the first line that survives wins. Lines mixing digits
// with a comma or a 4-digit year are treated as address or date lines,
// which also rejects legitimate names like "7-Eleven, Oslo" - a known
// limitation of the heuristic.
func Merchant(text string) string {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return ""
	}

	inspect := lines
	if len(inspect) > merchantLines {
		inspect = inspect[:merchantLines]
	}

	for _, raw := range inspect {
		clean := disallowedChars.ReplaceAllString(raw, "")
		clean = repeatedSpace.ReplaceAllString(clean, " ")
		clean = strings.TrimSpace(clean)

		if clean == "" {
			continue
		}
		if isBoilerplate(clean) {
			continue
		}
		if !hasLetter.MatchString(clean) {
			continue
		}
		if looksLikeAddress(raw, clean) {
			continue
		}
		return truncate(clean, maxMerchantLen)
	}

	// Nothing survived; fall back to the first raw line with any
	// boilerplate prefix stripped. This may legitimately be empty.
	return truncate(stripBoilerplate(lines[0]), maxMerchantLen)
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func isBoilerplate(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range boilerplatePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// stripBoilerplate removes a leading deny-list word from the line, if any.
func stripBoilerplate(line string) string {
	lower := strings.ToLower(line)
	for _, prefix := range boilerplatePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return strings.TrimSpace(line)
}

// looksLikeAddress reports whether a line reads as an address or date:
// digits combined with either a comma (checked against the raw line, since
// cleaning removes commas) or a 4-digit year.
func looksLikeAddress(raw, clean string) bool {
	if !hasDigit.MatchString(clean) {
		return false
	}
	return strings.Contains(raw, ",") || yearPattern.MatchString(clean)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
