package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel emits one section per sheet, cells tab-separated and rows on their own line.
func extractExcel(content []byte) (Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return Document{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	doc := Document{Sections: []Section{}}
	if props, err := f.GetDocProps(); err == nil && props != nil {
		doc.Title = strings.TrimSpace(props.Title)
	}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return Document{}, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		var lines []string
		for _, row := range rows {
			if line := strings.TrimRight(strings.Join(row, "\t"), "\t "); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			doc.Sections = append(doc.Sections, Section{Heading: sheet, Text: strings.Join(lines, "\n")})
		}
	}
	return doc, nil
}
