package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/lu4p/cat"
)

// Supported upload MIME types
const (
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimePlain    = "text/plain"
	MimeMarkdown = "text/markdown"
)

// ErrUnsupportedType is a content error: the user should upload a
// supported format instead of retrying.
type ErrUnsupportedType struct {
	MimeType string
}

func (e *ErrUnsupportedType) Error() string {
	return fmt.Sprintf("unsupported file type %q, use PDF, DOCX, TXT, or MD", e.MimeType)
}

// SupportedMimeType reports whether a capture upload is accepted
func SupportedMimeType(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case MimePDF, MimeDOCX, MimePlain, MimeMarkdown:
		return true
	}
	return false
}

// FromFile extracts plain text from an uploaded file based on its MIME type
func FromFile(data []byte, mimeType string) (string, error) {
	switch strings.ToLower(mimeType) {
	case MimePDF:
		return fromPDF(data)
	case MimeDOCX:
		text, err := cat.FromBytes(data)
		if err != nil {
			return "", fmt.Errorf("could not parse DOCX: %w", err)
		}
		return strings.TrimSpace(text), nil
	case MimePlain, MimeMarkdown:
		return strings.TrimSpace(string(data)), nil
	default:
		return "", &ErrUnsupportedType{MimeType: mimeType}
	}
}

func fromPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("could not parse PDF: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("could not read PDF page %d: %w", i, err)
		}
		buf.WriteString(text)
		if i < numPages {
			buf.WriteByte('\n')
		}
	}
	return strings.TrimSpace(buf.String()), nil
}
