package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var atxHeading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

// decodeText returns content as valid UTF-8 without a byte order mark.
func decodeText(content []byte) string {
	s := string(content)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return strings.TrimPrefix(s, "\ufeff")
}

func extractPlain(content []byte) (Document, error) {
	text := strings.TrimSpace(decodeText(content))
	if text == "" {
		return Document{Sections: []Section{}}, nil
	}
	return Document{Sections: []Section{{Text: text}}}, nil
}

// extractMarkdown splits on ATX headings outside fenced code blocks. The first level-one
// heading is the title.
func extractMarkdown(content []byte) (Document, error) {
	doc := Document{Sections: []Section{}}
	var (
		heading string
		lines   []string
		inFence bool
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(lines, "\n"))
		if text != "" || heading != "" {
			doc.Sections = append(doc.Sections, Section{Heading: heading, Text: text})
		}
		lines = lines[:0]
	}
	for _, line := range strings.Split(decodeText(content), "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if m := atxHeading.FindStringSubmatch(trimmed); m != nil {
				flush()
				heading = m[2]
				if len(m[1]) == 1 && doc.Title == "" {
					doc.Title = heading
				}
				continue
			}
		}
		lines = append(lines, line)
	}
	flush()
	return doc, nil
}
