package extract

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXText renders every sheet as tab-separated rows. Empty rows are
// dropped and sheets are separated by a blank line.
func XLSXText(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", eris.Wrap(err, "extract: open xlsx")
	}

	var sheets []string
	for _, sheet := range f.Sheets {
		var lines []string
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, len(row.Cells))
			for i, c := range row.Cells {
				if c != nil {
					cells[i] = strings.TrimSpace(c.String())
				}
			}
			for len(cells) > 0 && cells[len(cells)-1] == "" {
				cells = cells[:len(cells)-1]
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, "\t"))
			}
		}
		if len(lines) > 0 {
			sheets = append(sheets, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(sheets, "\n\n"), nil
}
