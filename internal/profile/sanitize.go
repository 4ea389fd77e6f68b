package profile

import (
	"regexp"
	"strings"
)

// Conservative server-side sanitizer for member-entered text: removes
// script blocks, event-handler attributes, and all remaining HTML tags,
// then normalizes whitespace. Applied before any profile field is stored.
var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	eventAttrRe   = regexp.MustCompile(`(?i)on\w+\s*=\s*("[^"]*"|'[^']*')`)
	htmlTagRe     = regexp.MustCompile(`<.*?>`)
	lineBreakRe   = regexp.MustCompile(`[\r\n\t]+`)
	multiSpaceRe  = regexp.MustCompile(`\s{2,}`)
)

func Sanitize(input string) string {
	if input == "" {
		return ""
	}
	out := scriptBlockRe.ReplaceAllString(input, "")
	out = eventAttrRe.ReplaceAllString(out, "")
	out = htmlTagRe.ReplaceAllString(out, "")
	out = lineBreakRe.ReplaceAllString(out, " ")
	out = multiSpaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
