// Package extract turns downloaded document bytes into plain text,
// dispatching on MIME type and file extension.
package extract

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/licita-cli/internal/config"
	"github.com/sells-group/licita-cli/internal/ocr"
)

// DefaultMinCharsPerPage is the native text density below which a PDF is
// treated as scanned.
const DefaultMinCharsPerPage = 100

// Kind is a document format the extractor understands.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindDOCX Kind = "docx"
	KindXLSX Kind = "xlsx"
	KindText Kind = "text"
)

// Detect picks the format from the MIME type, falling back to the file
// extension.
func Detect(mime, fileName string) Kind {
	mime = strings.ToLower(mime)
	name := strings.ToLower(fileName)
	switch {
	case strings.Contains(mime, "pdf") || strings.HasSuffix(name, ".pdf"):
		return KindPDF
	case strings.Contains(mime, "word") || strings.HasSuffix(name, ".docx"):
		return KindDOCX
	case strings.Contains(mime, "spreadsheet") || strings.Contains(mime, "excel") || strings.HasSuffix(name, ".xlsx"):
		return KindXLSX
	default:
		return KindText
	}
}

// Result is the text of one document.
type Result struct {
	Text      string
	PageCount int
	OCRUsed   bool
}

// Extractor converts documents to text.
type Extractor struct {
	pdf             *PdfToText
	ocr             ocr.Engine
	minCharsPerPage int
}

// New builds an extractor. engine may be nil to disable the OCR fallback.
func New(cfg config.OCRConfig, engine ocr.Engine) *Extractor {
	minChars := cfg.MinCharsPerPage
	if minChars <= 0 {
		minChars = DefaultMinCharsPerPage
	}
	return &Extractor{
		pdf:             NewPdfToText(cfg.PdfToTextPath),
		ocr:             engine,
		minCharsPerPage: minChars,
	}
}

// Extract returns the document's text. mime and fileName select the
// format; unknown formats are decoded as UTF-8 with invalid bytes replaced.
func (e *Extractor) Extract(ctx context.Context, data []byte, mime, fileName string) (*Result, error) {
	switch Detect(mime, fileName) {
	case KindPDF:
		return e.extractPDF(ctx, data)
	case KindDOCX:
		text, err := DOCXText(data)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text}, nil
	case KindXLSX:
		text, err := XLSXText(data)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text}, nil
	default:
		return &Result{Text: strings.ToValidUTF8(string(data), string(utf8.RuneError))}, nil
	}
}
