package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var slidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPPTX emits one section per slide in slide-number order. Zip order is whatever the
// writer chose, and slide10 sorts before slide2 lexically.
func extractPPTX(content []byte) (Document, error) {
	zr, err := openPackage(content, "pptx")
	if err != nil {
		return Document{}, err
	}
	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slidePart.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	doc := Document{Title: coreTitle(zr), Sections: []Section{}}
	for _, s := range slides {
		data, err := readPart(zr, s.name)
		if err != nil {
			return Document{}, fmt.Errorf("read pptx: %w", err)
		}
		paras, err := ooxmlParagraphs(data)
		if err != nil {
			return Document{}, fmt.Errorf("parse pptx %s: %w", s.name, err)
		}
		if len(paras) == 0 {
			continue
		}
		lines := make([]string, len(paras))
		for i, p := range paras {
			lines[i] = p.Text
		}
		doc.Sections = append(doc.Sections, Section{
			Heading: "Slide " + strconv.Itoa(s.num),
			Text:    strings.Join(lines, "\n"),
		})
	}
	return doc, nil
}
