package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// openPackage opens an OOXML or OpenDocument container.
func openPackage(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", format, err)
	}
	return zr, nil
}

var errPartMissing = errors.New("package part not found")

func readPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s: %w", name, errPartMissing)
}

func newDecoder(data []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	return dec
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// paragraph is one <w:p> or <a:p>. Heading is set from a Heading or Title paragraph style.
type paragraph struct {
	Text    string
	Style   string
	Heading bool
}

// ooxmlParagraphs walks WordprocessingML or DrawingML. Runs of <t> are concatenated inside
// a paragraph since words may be split across runs.
func ooxmlParagraphs(data []byte) ([]paragraph, error) {
	dec := newDecoder(data)
	var (
		paras  []paragraph
		cur    strings.Builder
		style  string
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab", "br", "cr":
				cur.WriteByte(' ')
			case "pStyle":
				style = attr(t, "val")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if text := collapseSpace(cur.String()); text != "" {
					paras = append(paras, paragraph{
						Text:    text,
						Style:   style,
						Heading: style == "Title" || strings.HasPrefix(style, "Heading"),
					})
				}
				cur.Reset()
				style = ""
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	if text := collapseSpace(cur.String()); text != "" {
		paras = append(paras, paragraph{Text: text})
	}
	return paras, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// coreTitle reads dc:title from docProps/core.xml. Missing parts yield "".
func coreTitle(zr *zip.Reader) string {
	data, err := readPart(zr, "docProps/core.xml")
	if err != nil {
		return ""
	}
	var props struct {
		Title string `xml:"title"`
	}
	if err := xml.Unmarshal(data, &props); err != nil {
		return ""
	}
	return strings.TrimSpace(props.Title)
}

// odfWalker groups OpenDocument text blocks (<text:p>, <text:h>) into sections.
// A new section starts at each container element (draw:page, table:table) and, when
// splitHeadings is set, at each <text:h>.
type odfWalker struct {
	container     string
	splitHeadings bool

	sections []Section
	heading  string
	lines    []string
	block    strings.Builder
	depth    int
	isHead   bool
	inRow    bool
	cells    []string
}

func (w *odfWalker) finish() {
	if len(w.lines) > 0 || (w.heading != "" && w.splitHeadings) {
		w.sections = append(w.sections, Section{Heading: w.heading, Text: strings.Join(w.lines, "\n")})
	}
	w.heading = ""
	w.lines = nil
}

func (w *odfWalker) endBlock() {
	text := collapseSpace(w.block.String())
	w.block.Reset()
	if text == "" {
		return
	}
	switch {
	case w.isHead && w.splitHeadings:
		w.finish()
		w.heading = text
	case w.inRow:
		w.cells = append(w.cells, text)
	default:
		w.lines = append(w.lines, text)
	}
}

func (w *odfWalker) walk(data []byte) ([]Section, error) {
	dec := newDecoder(data)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch name := t.Name.Local; {
			case w.container != "" && name == w.container:
				w.finish()
				w.heading = attr(t, "name")
			case name == "p" || name == "h":
				if w.depth == 0 {
					w.isHead = name == "h"
				}
				w.depth++
			case name == "table-row":
				w.inRow = true
				w.cells = nil
			case w.depth > 0 && (name == "s" || name == "tab" || name == "line-break"):
				w.block.WriteByte(' ')
			}
		case xml.EndElement:
			switch name := t.Name.Local; {
			case w.container != "" && name == w.container:
				w.finish()
			case name == "p" || name == "h":
				if w.depth > 0 {
					w.depth--
				}
				if w.depth == 0 {
					w.endBlock()
				}
			case name == "table-row":
				if len(w.cells) > 0 {
					w.lines = append(w.lines, strings.Join(w.cells, "\t"))
				}
				w.inRow = false
				w.cells = nil
			}
		case xml.CharData:
			if w.depth > 0 {
				w.block.Write(t)
			}
		}
	}
	w.finish()
	if w.sections == nil {
		w.sections = []Section{}
	}
	return w.sections, nil
}

// odfDocument extracts content.xml from an OpenDocument package. The title comes from
// meta.xml when present.
func odfDocument(content []byte, format, container string, splitHeadings bool) (Document, error) {
	zr, err := openPackage(content, format)
	if err != nil {
		return Document{}, err
	}
	data, err := readPart(zr, "content.xml")
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", format, err)
	}
	w := &odfWalker{container: container, splitHeadings: splitHeadings}
	sections, err := w.walk(data)
	if err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", format, err)
	}
	doc := Document{Sections: sections}
	if meta, err := readPart(zr, "meta.xml"); err == nil {
		var props struct {
			Meta struct {
				Title string `xml:"title"`
			} `xml:"meta"`
		}
		if xml.Unmarshal(meta, &props) == nil {
			doc.Title = strings.TrimSpace(props.Meta.Title)
		}
	}
	return doc, nil
}
