package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF emits one section per page that has text. Image-only pages are skipped.
func extractPDF(content []byte) (Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return Document{}, fmt.Errorf("open pdf: %w", err)
	}
	doc := Document{Sections: []Section{}}
	if info := r.Trailer().Key("Info"); !info.IsNull() {
		doc.Title = strings.TrimSpace(info.Key("Title").Text())
	}
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return Document{}, fmt.Errorf("read pdf page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		doc.Sections = append(doc.Sections, Section{Heading: "Page " + strconv.Itoa(i), Text: text})
	}
	return doc, nil
}
