package ocr

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// SpreadsheetPages renders each sheet of an xlsx workbook as one page of
// tab-separated rows headed by the sheet name.
func SpreadsheetPages(content []byte) ([]string, error) {
	f, err := xlsx.OpenBinary(content)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: open xlsx")
	}

	pages := make([]string, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		var sb strings.Builder
		sb.WriteString("Sheet: ")
		sb.WriteString(sheet.Name)
		for _, row := range sheet.Rows {
			cells := rowToStrings(row)
			if strings.TrimSpace(strings.Join(cells, "")) == "" {
				continue
			}
			sb.WriteByte('\n')
			sb.WriteString(strings.Join(cells, "\t"))
		}
		pages = append(pages, sb.String())
	}
	return pages, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
