package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/config"
)

// Tesseract rasterizes pages with pdftoppm and runs tesseract on each one.
type Tesseract struct {
	pdftoppm  string
	tesseract string
	lang      string
	dpi       int
}

// NewTesseract uses binaries from PATH unless cfg names them.
func NewTesseract(cfg config.OCRConfig) *Tesseract {
	t := &Tesseract{
		pdftoppm:  cfg.PdfToPPMPath,
		tesseract: cfg.TesseractPath,
		lang:      cfg.Lang,
		dpi:       cfg.DPI,
	}
	if t.pdftoppm == "" {
		t.pdftoppm = "pdftoppm"
	}
	if t.tesseract == "" {
		t.tesseract = "tesseract"
	}
	if t.lang == "" {
		t.lang = "por"
	}
	if t.dpi <= 0 {
		t.dpi = 200
	}
	return t
}

// Recognize writes one PNG per page into a temp dir, OCRs them in page
// order and joins the results with a blank line.
func (t *Tesseract) Recognize(ctx context.Context, pdfPath string) (string, error) {
	dir, err := os.MkdirTemp("", "licita-ocr-*")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	prefix := filepath.Join(dir, "page")
	if _, err := run(ctx, t.pdftoppm, "-r", strconv.Itoa(t.dpi), "-png", pdfPath, prefix); err != nil {
		return "", eris.Wrapf(err, "ocr: rasterize %s", pdfPath)
	}

	images, err := pageImages(prefix)
	if err != nil {
		return "", err
	}

	pages := make([]string, 0, len(images))
	for _, img := range images {
		out, err := run(ctx, t.tesseract, img, "stdout", "-l", t.lang)
		if err != nil {
			return "", eris.Wrapf(err, "ocr: recognize %s", filepath.Base(img))
		}
		pages = append(pages, strings.TrimSpace(out))
	}
	return strings.Join(pages, pageSeparator), nil
}

// pageImages lists prefix-N.png files sorted by N. pdftoppm zero-pads N to
// the width of the page count, so a lexical sort is not enough on its own.
func pageImages(prefix string) ([]string, error) {
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, eris.Wrap(err, "ocr: list page images")
	}
	sort.Slice(matches, func(i, j int) bool {
		return pageNumber(matches[i], prefix) < pageNumber(matches[j], prefix)
	})
	return matches, nil
}

func pageNumber(path, prefix string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(path, prefix+"-"), ".png"))
	if err != nil {
		return 0
	}
	return n
}

func run(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "%s failed: %s", filepath.Base(bin), strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
