// Package ocr recognizes text in scanned PDFs, either locally with
// pdftoppm and tesseract or through the Mistral OCR API.
package ocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/config"
)

// Engine turns a PDF on disk into recognized text, pages in order.
type Engine interface {
	Recognize(ctx context.Context, pdfPath string) (string, error)
}

// NewEngine builds the engine named by cfg.Provider. Provider "none"
// returns a nil engine, which disables the OCR fallback.
func NewEngine(cfg config.OCRConfig) (Engine, error) {
	switch strings.ToLower(cfg.Provider) {
	case "tesseract", "local", "":
		return NewTesseract(cfg), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires ocr.mistral_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	case "none":
		return nil, nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// pageSeparator joins the text of consecutive pages.
const pageSeparator = "\n\n"
