package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

const docxBody = "word/document.xml"

// DOCXText returns the non-empty paragraphs of a .docx body joined by a
// blank line. Tabs and line breaks inside a paragraph are preserved.
func DOCXText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "extract: open docx")
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return "", eris.Errorf("extract: docx has no %s", docxBody)
	}

	rc, err := body.Open()
	if err != nil {
		return "", eris.Wrap(err, "extract: open docx body")
	}
	defer rc.Close() //nolint:errcheck

	var (
		paragraphs []string
		cur        strings.Builder
		inText     bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "extract: parse docx body")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				cur.Reset()
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if p := cur.String(); strings.TrimSpace(p) != "" {
					paragraphs = append(paragraphs, p)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}
