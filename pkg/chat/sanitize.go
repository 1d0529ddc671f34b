package chat

import (
	"regexp"
	"strings"
)

// Section headings the upstream model tends to emit despite instructions.
// They are stripped before the content reaches the client.
var bannedHeadings = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\*\*Resumen:?\*\*:?\s*$`),
	regexp.MustCompile(`(?m)^\*\*Fuentes:?\*\*:?\s*$`),
	regexp.MustCompile(`(?m)^#{1,3}\s*Resumen\s*$`),
	regexp.MustCompile(`(?m)^#{1,3}\s*Fuentes\s*$`),
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Sanitize normalizes assistant output: banned headings are removed and runs
// of three or more blank lines collapse to one blank line.
func Sanitize(content string) string {
	for _, re := range bannedHeadings {
		content = re.ReplaceAllString(content, "")
	}
	content = blankRuns.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
