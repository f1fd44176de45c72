package extract

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// Pages runs pdftotext on the given PDF and splits stdout on form feeds,
// one entry per page.
func (p *PdfToText) Pages(ctx context.Context, pdfPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-enc", "UTF-8", pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "extract: pdftotext failed for %s: %s", pdfPath, strings.TrimSpace(stderr.String()))
	}

	out := stdout.String()
	if out == "" {
		return nil, nil
	}
	pages := strings.Split(out, "\f")
	// pdftotext terminates every page, including the last, with a form feed.
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	for i := range pages {
		pages[i] = strings.TrimRight(pages[i], "\n ")
	}
	return pages, nil
}

// extractPDF reads native text and falls back to OCR when the average
// characters per page is below the threshold. OCR output replaces the
// native text only when it is strictly longer.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (*Result, error) {
	tmp, err := os.CreateTemp("", "licita-*.pdf")
	if err != nil {
		return nil, eris.Wrap(err, "extract: create temp pdf")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, eris.Wrap(err, "extract: write temp pdf")
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "extract: close temp pdf")
	}

	pages, err := e.pdf.Pages(ctx, tmp.Name())
	if err != nil {
		return nil, err
	}

	res := &Result{Text: strings.Join(pages, "\n\n"), PageCount: len(pages)}
	if !LowDensity(res.Text, res.PageCount, e.minCharsPerPage) || e.ocr == nil {
		return res, nil
	}

	native := utf8.RuneCountInString(res.Text)
	zap.L().Info("low text density, attempting OCR",
		zap.Int("pages", res.PageCount),
		zap.Int("chars", native),
	)
	ocrText, err := e.ocr.Recognize(ctx, tmp.Name())
	if err != nil {
		zap.L().Warn("ocr failed, keeping native text", zap.Error(err))
		return res, nil
	}
	if utf8.RuneCountInString(ocrText) > native {
		res.Text = ocrText
		res.OCRUsed = true
	}
	return res, nil
}

// LowDensity reports whether a document with pageCount pages and the given
// text averages fewer than minChars characters per page.
func LowDensity(text string, pageCount, minChars int) bool {
	if pageCount <= 0 {
		return false
	}
	return float64(utf8.RuneCountInString(text))/float64(pageCount) < float64(minChars)
}
