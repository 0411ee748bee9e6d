package scriptops

import (
	"regexp"
	"strings"
)

const chapterBreak = "chapter-break"

var (
	chapterBreakSelfClosing = regexp.MustCompile(`(?i)<chapter-break\s*/>`)
	tagBoundary             = regexp.MustCompile(`(</[A-Za-z][A-Za-z0-9-]*>)\s*(<[A-Za-z][A-Za-z0-9-]*>)`)
	whitespaceRun           = regexp.MustCompile(`\s+`)
	// RE2 has no backreferences; the closing name is compared in code.
	wrappedLine = regexp.MustCompile(`^<([A-Za-z][A-Za-z0-9-]*)>(.*)</([A-Za-z][A-Za-z0-9-]*)>$`)
)

// Sanitize normalizes script markup produced by the assistant. The result has
// one element per line, no blank lines and no runs of whitespace. A line
// wrapped in a matching tag pair has its inner text trimmed, and
// <chapter-break/> becomes <chapter-break></chapter-break>. Lines with
// unclosed or mismatched tags are kept as plain text.
func Sanitize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	content = strings.ReplaceAll(content, "\t", " ")
	content = chapterBreakSelfClosing.ReplaceAllString(content, "<chapter-break></chapter-break>")
	content = tagBoundary.ReplaceAllString(content, "$1\n$2")

	var out []string
	for _, line := range strings.Split(content, "\n") {
		if line = sanitizeLine(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func sanitizeLine(line string) string {
	line = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	if line == "" {
		return ""
	}

	m := wrappedLine.FindStringSubmatch(line)
	if m == nil || !strings.EqualFold(m[1], m[3]) {
		return line
	}
	tag := m[1]
	if strings.EqualFold(tag, chapterBreak) {
		return "<" + tag + "></" + tag + ">"
	}
	inner := strings.TrimSpace(m[2])
	if inner == "" {
		return ""
	}
	return "<" + tag + ">" + inner + "</" + tag + ">"
}
