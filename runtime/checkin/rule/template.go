package rule

import (
	"regexp"

	"goa.design/checkin/runtime/checkin/signal"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z][A-Za-z0-9_]*)\s*\}\}`)

// Render replaces {{field}} tokens in tmpl with values from set. Signals of
// the preferred kinds are consulted first; tokens that match no signal are
// left verbatim.
func Render(tmpl string, set signal.Set, preferred ...signal.Kind) string {
	return tokenPattern.ReplaceAllStringFunc(tmpl, func(tok string) string {
		field := tokenPattern.FindStringSubmatch(tok)[1]
		if v, ok := set.Lookup(field, preferred...); ok {
			return v
		}
		return tok
	})
}

// Fields returns the field names referenced by tmpl in order of appearance.
func Fields(tmpl string) []string {
	matches := tokenPattern.FindAllStringSubmatch(tmpl, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
