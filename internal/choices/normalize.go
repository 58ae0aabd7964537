package choices

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize puts a choice in comparable form: NFC, trimmed, forward slashes.
func Normalize(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(norm.NFC.String(s)), `\`, "/")
}

// Match returns the first option whose normalized form equals the
// normalized want.
func Match(options []string, want string) (string, bool) {
	target := Normalize(want)
	for _, opt := range options {
		if Normalize(opt) == target {
			return opt, true
		}
	}
	return "", false
}

// Pick resolves want against options, falling back to the first option, or
// "" when there are none.
func Pick(options []string, want string) string {
	if got, ok := Match(options, want); ok {
		return got
	}
	if len(options) > 0 {
		return options[0]
	}
	return ""
}

// Clean trims every entry of a catalog response and drops empties and
// duplicates, keeping first occurrence order. Entries otherwise stay as the
// backend spelled them, since that spelling is what it accepts back;
// Match does the normalizing.
func Clean(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
