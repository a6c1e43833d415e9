// Package e2e drives every supported document format through indexing, discovery, and retrieval.
package e2e

import (
	"archive/zip"
	"bytes"
	"html"

	"github.com/xuri/excelize/v2"
)

// SupportedFileExtensions are the formats the fixtures can generate. PDF is left to the
// extract package tests since a minimal PDF with a text layer cannot be built by hand here.
var SupportedFileExtensions = []string{
	".txt", ".md", ".rst", ".rtf",
	".docx", ".xlsx", ".pptx",
	".odt", ".odp", ".ods",
}

// MinimalFile returns the bytes of the smallest file of type ext that carries title and text.
// Plain formats get the text with a heading line; others wrap it in their container.
func MinimalFile(ext, title, text string) ([]byte, error) {
	switch ext {
	case ".md":
		return []byte("# " + title + "\n\n" + text + "\n"), nil
	case ".rtf":
		return []byte(`{\rtf1\ansi ` + title + `\par ` + text + `}`), nil
	case ".docx":
		return zipParts(
			"word/document.xml", `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`+
				`<w:p><w:pPr><w:pStyle w:val="Title"/></w:pPr><w:r><w:t>`+esc(title)+`</w:t></w:r></w:p>`+
				`<w:p><w:r><w:t>`+esc(text)+`</w:t></w:r></w:p></w:body></w:document>`,
		)
	case ".pptx":
		return zipParts(
			"ppt/slides/slide1.xml", `<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree><p:sp><p:txBody>`+
				`<a:p><a:r><a:t>`+esc(title)+`</a:t></a:r></a:p><a:p><a:r><a:t>`+esc(text)+`</a:t></a:r></a:p>`+
				`</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`,
		)
	case ".odt":
		return zipParts("content.xml", odfContent(`<office:text><text:h>`+esc(title)+`</text:h><text:p>`+esc(text)+`</text:p></office:text>`))
	case ".odp":
		return zipParts("content.xml", odfContent(`<office:presentation><draw:page draw:name="`+esc(title)+`"><draw:frame><draw:text-box>`+
			`<text:p>`+esc(text)+`</text:p></draw:text-box></draw:frame></draw:page></office:presentation>`))
	case ".ods":
		return zipParts("content.xml", odfContent(`<office:spreadsheet><table:table table:name="`+esc(title)+`"><table:table-row>`+
			`<table:table-cell><text:p>`+esc(text)+`</text:p></table:table-cell></table:table-row></table:table></office:spreadsheet>`))
	case ".xlsx":
		return minimalXlsx(title, text)
	default:
		return []byte(title + "\n\n" + text + "\n"), nil
	}
}

func esc(s string) string { return html.EscapeString(s) }

func odfContent(body string) string {
	return `<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" ` +
		`xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0" ` +
		`xmlns:table="urn:oasis:names:tc:opendocument:xmlns:table:1.0" ` +
		`xmlns:draw="urn:oasis:names:tc:opendocument:xmlns:drawing:1.0">` +
		`<office:body>` + body + `</office:body></office:document-content>`
}

func zipParts(parts ...string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i+1 < len(parts); i += 2 {
		w, err := zw.Create(parts[i])
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(parts[i+1])); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func minimalXlsx(title, text string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", title); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(title, "A1", text); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
