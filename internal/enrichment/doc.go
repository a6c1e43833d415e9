package enrichment

import (
	"strings"
)

// DocComment is the parsed documentation block immediately preceding a declaration.
type DocComment struct {
	Description string            `json:"description,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	Returns     string            `json:"returns,omitempty"`
	Throws      []string          `json:"throws,omitempty"`
	Raw         string            `json:"-"`
}

// parseDocComment reads the comment block ending on the line before line (1-based). Line
// comments (//, #) must be contiguous; a block comment is read back to its opening /*.
// Decorator lines between the comment and the declaration are skipped.
func parseDocComment(lines []string, line int) *DocComment {
	i := line - 2
	if i >= len(lines) {
		return nil
	}
	for i >= 0 && strings.HasPrefix(strings.TrimSpace(lines[i]), "@") {
		i--
	}
	if i < 0 || i >= len(lines) {
		return nil
	}

	var body []string
	last := strings.TrimSpace(lines[i])
	switch {
	case strings.HasSuffix(last, "*/"):
		start := i
		for start >= 0 && !strings.Contains(lines[start], "/*") {
			start--
		}
		if start < 0 {
			return nil
		}
		for _, l := range lines[start : i+1] {
			body = append(body, stripBlock(l))
		}
	case isLineComment(last):
		start := i
		for start > 0 && isLineComment(strings.TrimSpace(lines[start-1])) {
			start--
		}
		for _, l := range lines[start : i+1] {
			body = append(body, stripLine(strings.TrimSpace(l)))
		}
	default:
		return nil
	}
	doc := parseTags(body)
	if doc.Description == "" && len(doc.Params) == 0 && doc.Returns == "" && len(doc.Throws) == 0 {
		return nil
	}
	return doc
}

func isLineComment(s string) bool {
	return strings.HasPrefix(s, "//") || (strings.HasPrefix(s, "#") && !strings.HasPrefix(s, "#!"))
}

func stripLine(s string) string {
	s = strings.TrimLeft(s, "/#")
	return strings.TrimSpace(s)
}

func stripBlock(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "/*"); idx >= 0 {
		s = s[idx+2:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "*/")
	s = strings.TrimLeft(strings.TrimSpace(s), "*")
	return strings.TrimSpace(s)
}

// parseTags splits comment text into free description and @param, @returns, @throws tags.
func parseTags(body []string) *DocComment {
	doc := &DocComment{Raw: strings.Join(body, "\n")}
	var desc []string
	inTags := false
	for _, l := range body {
		if l == "" {
			continue
		}
		if !strings.HasPrefix(l, "@") {
			if !inTags {
				desc = append(desc, l)
			}
			continue
		}
		inTags = true
		tag, rest, _ := strings.Cut(l, " ")
		rest = strings.TrimSpace(rest)
		switch tag {
		case "@param", "@arg", "@argument":
			rest = skipTypeAnnotation(rest)
			name, text, _ := strings.Cut(rest, " ")
			name = strings.Trim(name, "[]")
			if name == "" {
				continue
			}
			if doc.Params == nil {
				doc.Params = make(map[string]string)
			}
			doc.Params[name] = strings.TrimPrefix(strings.TrimSpace(text), "- ")
		case "@returns", "@return":
			doc.Returns = skipTypeAnnotation(rest)
		case "@throws", "@throw", "@raises", "@exception":
			if rest != "" {
				doc.Throws = append(doc.Throws, rest)
			}
		}
	}
	doc.Description = strings.Join(desc, " ")
	return doc
}

// skipTypeAnnotation drops a leading {Type}.
func skipTypeAnnotation(s string) string {
	if !strings.HasPrefix(s, "{") {
		return s
	}
	if end := strings.Index(s, "}"); end >= 0 {
		return strings.TrimSpace(s[end+1:])
	}
	return s
}
