package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// zipOf builds a package from name/content pairs, in the order given.
func zipOf(t *testing.T, parts ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i+1 < len(parts); i += 2 {
		w, err := zw.Create(parts[i])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(parts[i+1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func wordBody(paras ...string) string {
	return `<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		strings.Join(paras, "") + `</w:body></w:document>`
}

func wordPara(style string, runs ...string) string {
	var b strings.Builder
	b.WriteString(`<w:p w:rsidR="00AB12">`)
	if style != "" {
		b.WriteString(`<w:pPr><w:pStyle w:val="` + style + `"/></w:pPr>`)
	}
	for _, r := range runs {
		b.WriteString(`<w:r><w:t xml:space="preserve">` + r + `</w:t></w:r>`)
	}
	b.WriteString(`</w:p>`)
	return b.String()
}

func slideXML(paras ...string) string {
	var b strings.Builder
	b.WriteString(`<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree><p:sp><p:txBody>`)
	for _, p := range paras {
		b.WriteString(`<a:p><a:r><a:t>` + p + `</a:t></a:r></a:p>`)
	}
	b.WriteString(`</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`)
	return b.String()
}

func TestDocumentText(t *testing.T) {
	doc := Document{Sections: []Section{
		{Heading: "Intro", Text: " first "},
		{Text: ""},
		{Text: "second"},
		{Heading: "Empty"},
	}}
	want := "Intro\nfirst\n\nsecond\n\nEmpty"
	if got := doc.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	if got := (Document{}).Text(); got != "" {
		t.Errorf("empty document Text() = %q", got)
	}
}

func TestExtractBytes_plain(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
		want    string
		format  string
	}{
		{"txt", "Hello world\nLine 2", ".txt", "Hello world\nLine 2", "txt"},
		{"utf8", "caf\xc3\xa9", ".rst", "café", "rst"},
		{"invalid utf8", "hello\x80world", ".txt", "hello\uFFFDworld", "txt"},
		{"bom", "\ufeffbody", ".txt", "body", "txt"},
		{"unknown extension", "plain content", ".xyz", "plain content", "text"},
		{"no extension", "readme", "", "readme", "text"},
		{"uppercase extension", "upper", ".TXT", "upper", "txt"},
	}
	e := NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := e.ExtractBytes([]byte(tt.content), tt.ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got := doc.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
			if doc.Format != tt.format {
				t.Errorf("Format = %q, want %q", doc.Format, tt.format)
			}
		})
	}
}

func TestExtractBytes_plainEmpty(t *testing.T) {
	doc, err := NewExtractor().ExtractBytes([]byte("  \n "), ".txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Sections) != 0 || doc.Text() != "" {
		t.Errorf("expected no sections, got %+v", doc.Sections)
	}
}

func TestExtractBytes_markdown(t *testing.T) {
	src := "intro line\n# Tsunagu\nGraph notes.\n\n## Storage\nSQLite backed.\n```\n# not a heading\n```\n## Empty\n"
	doc, err := NewExtractor().ExtractBytes([]byte(src), ".md")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Tsunagu" {
		t.Errorf("Title = %q", doc.Title)
	}
	var headings []string
	for _, s := range doc.Sections {
		headings = append(headings, s.Heading)
	}
	if want := []string{"", "Tsunagu", "Storage", "Empty"}; !reflect.DeepEqual(headings, want) {
		t.Fatalf("headings = %q, want %q", headings, want)
	}
	if !strings.Contains(doc.Sections[2].Text, "# not a heading") {
		t.Errorf("fenced heading should stay in section text: %q", doc.Sections[2].Text)
	}
}

func TestExtractBytes_docx(t *testing.T) {
	body := wordBody(
		wordPara("Title", "Design ", "Notes"),
		wordPara("", "Hel", "lo world"),
		wordPara("Heading1", "Storage"),
		wordPara("", "Uses SQLite."),
		wordPara("", "   "),
	)
	content := zipOf(t, "word/document.xml", body)

	doc, err := NewExtractor().ExtractBytes(content, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if doc.Title != "Design Notes" {
		t.Errorf("Title = %q", doc.Title)
	}
	want := []Section{
		{Heading: "Design Notes", Text: "Hello world"},
		{Heading: "Storage", Text: "Uses SQLite."},
	}
	if !reflect.DeepEqual(doc.Sections, want) {
		t.Errorf("Sections = %+v, want %+v", doc.Sections, want)
	}
}

func TestExtractBytes_docxContentTypesAndCoreTitle(t *testing.T) {
	types := `<?xml version="1.0"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Override ContentType="` + wordMainContentType + `" PartName="/word/document2.xml"/></Types>`
	core := `<cp:coreProperties xmlns:cp="cp" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>From Properties</dc:title></cp:coreProperties>`
	content := zipOf(t,
		contentTypesPart, types,
		"docProps/core.xml", core,
		"word/document2.xml", wordBody(wordPara("Title", "Ignored Title"), wordPara("", "renamed body")),
	)
	doc, err := NewExtractor().ExtractBytes(content, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if doc.Title != "From Properties" {
		t.Errorf("Title = %q, want core property title", doc.Title)
	}
	if !strings.Contains(doc.Text(), "renamed body") {
		t.Errorf("Text() = %q", doc.Text())
	}
}

func TestExtractBytes_docxMissingBody(t *testing.T) {
	_, err := NewExtractor().ExtractBytes(zipOf(t, "other.xml", "<x/>"), ".docx")
	if !errors.Is(err, errPartMissing) {
		t.Errorf("err = %v, want errPartMissing", err)
	}
}

func TestExtractBytes_pptxSlideOrder(t *testing.T) {
	content := zipOf(t,
		"ppt/slides/slide10.xml", slideXML("ten"),
		"ppt/slides/slide2.xml", slideXML("two", "second line"),
		"ppt/slides/slide1.xml", slideXML("one"),
		"ppt/slides/_rels/slide1.xml.rels", "<Relationships/>",
		"ppt/slides/slide3.xml", slideXML(),
	)
	doc, err := NewExtractor().ExtractBytes(content, ".pptx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := []Section{
		{Heading: "Slide 1", Text: "one"},
		{Heading: "Slide 2", Text: "two\nsecond line"},
		{Heading: "Slide 10", Text: "ten"},
	}
	if !reflect.DeepEqual(doc.Sections, want) {
		t.Errorf("Sections = %+v, want %+v", doc.Sections, want)
	}
}

func TestExtractBytes_pptxNoSlides(t *testing.T) {
	doc, err := NewExtractor().ExtractBytes(zipOf(t, "ppt/presentation.xml", "<p/>"), ".pptx")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Text() != "" {
		t.Errorf("Text() = %q", doc.Text())
	}
}

func TestExtractBytes_notZip(t *testing.T) {
	for _, ext := range []string{".docx", ".pptx", ".odp", ".ods", ".odt"} {
		if _, err := NewExtractor().ExtractBytes([]byte("not a zip"), ext); err == nil {
			t.Errorf("%s: expected error for non-zip input", ext)
		}
	}
}

func TestExtractBytes_odp(t *testing.T) {
	contentXML := `<office:document-content xmlns:office="o" xmlns:draw="d" xmlns:text="t"><office:body><office:presentation>` +
		`<draw:page draw:name="Overview"><draw:frame><draw:text-box><text:p>Hello<text:s/>ODP</text:p><text:h>Sub</text:h></draw:text-box></draw:frame></draw:page>` +
		`<draw:page draw:name="Empty"></draw:page>` +
		`<draw:page draw:name="Next"><draw:frame><draw:text-box><text:p>second <text:span>slide</text:span></text:p></draw:text-box></draw:frame></draw:page>` +
		`</office:presentation></office:body></office:document-content>`
	doc, err := NewExtractor().ExtractBytes(zipOf(t, "content.xml", contentXML), ".odp")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := []Section{
		{Heading: "Overview", Text: "Hello ODP\nSub"},
		{Heading: "Next", Text: "second slide"},
	}
	if !reflect.DeepEqual(doc.Sections, want) {
		t.Errorf("Sections = %+v, want %+v", doc.Sections, want)
	}
}

func TestExtractBytes_ods(t *testing.T) {
	contentXML := `<office:document-content xmlns:office="o" xmlns:table="tb" xmlns:text="t"><office:body><office:spreadsheet>` +
		`<table:table table:name="Budget">` +
		`<table:table-row><table:table-cell><text:p>Item</text:p></table:table-cell><table:table-cell><text:p>Cost</text:p></table:table-cell></table:table-row>` +
		`<table:table-row><table:table-cell/></table:table-row>` +
		`<table:table-row><table:table-cell><text:p>Disk</text:p></table:table-cell><table:table-cell><text:p>40</text:p></table:table-cell></table:table-row>` +
		`</table:table></office:spreadsheet></office:body></office:document-content>`
	meta := `<office:document-meta xmlns:office="o" xmlns:dc="dc"><office:meta><dc:title>Costs</dc:title></office:meta></office:document-meta>`
	doc, err := NewExtractor().ExtractBytes(zipOf(t, "content.xml", contentXML, "meta.xml", meta), ".ods")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if doc.Title != "Costs" {
		t.Errorf("Title = %q", doc.Title)
	}
	want := []Section{{Heading: "Budget", Text: "Item\tCost\nDisk\t40"}}
	if !reflect.DeepEqual(doc.Sections, want) {
		t.Errorf("Sections = %+v, want %+v", doc.Sections, want)
	}
}

func TestExtractBytes_odtHeadings(t *testing.T) {
	contentXML := `<office:document-content xmlns:office="o" xmlns:text="t"><office:body><office:text>` +
		`<text:p>preamble</text:p><text:h text:outline-level="1">Queue</text:h><text:p>Jobs are retried.</text:p>` +
		`<text:h text:outline-level="1">Store</text:h><text:p>Nodes<text:tab/>and edges.</text:p>` +
		`</office:text></office:body></office:document-content>`
	doc, err := NewExtractor().ExtractBytes(zipOf(t, "content.xml", contentXML), ".odt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := []Section{
		{Text: "preamble"},
		{Heading: "Queue", Text: "Jobs are retried."},
		{Heading: "Store", Text: "Nodes and edges."},
	}
	if !reflect.DeepEqual(doc.Sections, want) {
		t.Errorf("Sections = %+v, want %+v", doc.Sections, want)
	}
}

func TestExtractBytes_odfMissingContent(t *testing.T) {
	_, err := NewExtractor().ExtractBytes(zipOf(t, "meta.xml", "<x/>"), ".ods")
	if !errors.Is(err, errPartMissing) {
		t.Errorf("err = %v, want errPartMissing", err)
	}
}

func TestExtractBytes_rtf(t *testing.T) {
	doc, err := NewExtractor().ExtractBytes([]byte(`{\rtf1\ansi Hello RTF}`), ".rtf")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !strings.Contains(doc.Text(), "Hello RTF") {
		t.Errorf("Text() = %q", doc.Text())
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	if _, err := f.NewSheet("Empty"); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	doc, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := []Section{{Heading: "Sheet1", Text: "Title\nValue 1\tValue 2"}}
	if !reflect.DeepEqual(doc.Sections, want) {
		t.Errorf("Sections = %+v, want %+v", doc.Sections, want)
	}
}

func TestExtract_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("# Notes\nFile content"), 0o600); err != nil {
		t.Fatal(err)
	}
	doc, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.Title != "Notes" || doc.Format != "md" || doc.Text() != "Notes\nFile content" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	if _, err := NewExtractor().Extract(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestExtract_tooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(path, bytes.Repeat([]byte("a"), 64), 0o600); err != nil {
		t.Fatal(err)
	}
	e := NewExtractor(WithMaxBytes(16))
	if _, err := e.Extract(path); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Extract err = %v, want ErrTooLarge", err)
	}
	if _, err := e.ExtractBytes(make([]byte, 17), ".txt"); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ExtractBytes err = %v, want ErrTooLarge", err)
	}
	if _, err := NewExtractor(WithMaxBytes(0)).Extract(path); err != nil {
		t.Errorf("unlimited extractor: %v", err)
	}
}

func TestSupported(t *testing.T) {
	for _, ext := range []string{".pdf", ".DOCX", ".odt", ".rtf", ".xlsx", ".pptx", ".odp", ".ods", ".md", ".txt"} {
		if !Supported(ext) {
			t.Errorf("Supported(%q) = false", ext)
		}
	}
	if Supported(".go") {
		t.Error("Supported(.go) = true")
	}
}
