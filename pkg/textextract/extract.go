package textextract

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrUnsupportedType = errors.New("unsupported file type")

// Page is the text of one page, numbered from 1. Pages without extractable
// text have an empty Text.
type Page struct {
	Number int
	Text   string
}

type ExtractedText struct {
	Pages    []Page
	Metadata map[string]string
}

// Content joins all page texts with newlines.
func (e *ExtractedText) Content() string {
	parts := make([]string, len(e.Pages))
	for i, p := range e.Pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n")
}

func Extract(data io.ReaderAt, size int64, fileType string) (*ExtractedText, error) {
	switch NormalizeType(fileType) {
	case ".pdf":
		return extractPDF(data, size)
	case ".txt":
		return extractTXT(data, size)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
}

func SupportedTypes() []string {
	return []string{".pdf", ".txt"}
}

// NormalizeType maps a file extension, bare type name or MIME type onto the
// canonical extension, or "" when unknown.
func NormalizeType(fileType string) string {
	switch strings.ToLower(strings.TrimSpace(fileType)) {
	case ".pdf", "pdf", "application/pdf":
		return ".pdf"
	case ".txt", "txt", "text/plain":
		return ".txt"
	default:
		return ""
	}
}

// TypeFromFilename returns the canonical type for a file name, or "".
func TypeFromFilename(name string) string {
	return NormalizeType(filepath.Ext(name))
}

func extractPDF(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]Page, 0, numPages)

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		p := Page{Number: i}
		if !page.V.IsNull() {
			if text, err := page.GetPlainText(nil); err == nil {
				p.Text = strings.ToValidUTF8(text, "")
			}
		}
		pages = append(pages, p)
	}

	return &ExtractedText{
		Pages: pages,
		Metadata: map[string]string{
			"type": "pdf",
		},
	}, nil
}

func extractTXT(data io.ReaderAt, size int64) (*ExtractedText, error) {
	buf := make([]byte, size)
	n, err := data.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read TXT: %w", err)
	}

	return &ExtractedText{
		Pages: []Page{{Number: 1, Text: strings.ToValidUTF8(string(buf[:n]), "�")}},
		Metadata: map[string]string{
			"type": "txt",
		},
	}, nil
}
