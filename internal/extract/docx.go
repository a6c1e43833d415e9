package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/lu4p/cat"
)

const (
	contentTypesPart    = "[Content_Types].xml"
	defaultDocumentPart = "word/document.xml"
	wordMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// mainDocumentPart resolves the WordprocessingML body from [Content_Types].xml. Packages
// written by some tools rename it, so the default is only a fallback.
func mainDocumentPart(zr *zip.Reader) string {
	data, err := readPart(zr, contentTypesPart)
	if err != nil {
		return defaultDocumentPart
	}
	var types struct {
		Overrides []struct {
			PartName    string `xml:"PartName,attr"`
			ContentType string `xml:"ContentType,attr"`
		} `xml:"Override"`
	}
	if err := xml.Unmarshal(data, &types); err != nil {
		return defaultDocumentPart
	}
	for _, o := range types.Overrides {
		if o.ContentType == wordMainContentType {
			return strings.TrimPrefix(o.PartName, "/")
		}
	}
	return defaultDocumentPart
}

// extractDOCX starts a section at each Heading or Title styled paragraph. The title is
// dc:title from the package properties, else the first Title paragraph.
func extractDOCX(content []byte) (Document, error) {
	zr, err := openPackage(content, "docx")
	if err != nil {
		return Document{}, err
	}
	part := mainDocumentPart(zr)
	data, err := readPart(zr, part)
	if err != nil {
		return Document{}, fmt.Errorf("read docx: %w", err)
	}
	paras, err := ooxmlParagraphs(data)
	if err != nil {
		return Document{}, fmt.Errorf("parse docx %s: %w", part, err)
	}

	doc := Document{Title: coreTitle(zr), Sections: []Section{}}
	var (
		heading string
		lines   []string
	)
	flush := func() {
		if len(lines) > 0 || heading != "" {
			doc.Sections = append(doc.Sections, Section{Heading: heading, Text: strings.Join(lines, "\n")})
		}
		heading, lines = "", nil
	}
	for _, p := range paras {
		if !p.Heading {
			lines = append(lines, p.Text)
			continue
		}
		if p.Style == "Title" && doc.Title == "" {
			doc.Title = p.Text
		}
		flush()
		heading = p.Text
	}
	flush()
	return doc, nil
}

func extractODT(content []byte) (Document, error) {
	return odfDocument(content, "odt", "", true)
}

// extractRTF has no structure to recover, so it is a single section.
func extractRTF(content []byte) (Document, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return Document{}, fmt.Errorf("read rtf: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Document{Sections: []Section{}}, nil
	}
	return Document{Sections: []Section{{Text: text}}}, nil
}
