// Package export renders a work's defect register as a spreadsheet.
package export

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"siteline/internal/domain"
)

const sheetName = "Defects"

// RegisterHeader is the first row of the register.
var RegisterHeader = []string{
	"Inspection",
	"Defect ID",
	"Description",
	"Standard Reference",
	"Location",
	"Severity",
	"Responsible Party",
	"Deadline",
	"Photos",
	"Remediation Status",
	"Completed At",
	"Verified At",
	"Verified By",
	"Verification Notes",
}

var columnWidths = []float64{12, 38, 48, 22, 20, 10, 22, 14, 40, 18, 22, 22, 16, 40}

// DefectRegister writes one row per defect, ordered by inspection number
// and then by severity display rank.
func DefectRegister(w domain.Work, inspections []domain.Inspection, defects []domain.DefectWithRemediation) ([]byte, error) {
	numbers := map[string]int{}
	for _, in := range inspections {
		numbers[in.ID] = in.Number
	}
	rows := make([]domain.DefectWithRemediation, len(defects))
	copy(rows, defects)
	sort.SliceStable(rows, func(i, j int) bool {
		ni, nj := numbers[rows[i].InspectionID], numbers[rows[j].InspectionID]
		if ni != nj {
			return ni < nj
		}
		return rows[i].Severity.DisplayRank() < rows[j].Severity.DisplayRank()
	})

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: "Defect register: " + w.Title, Subject: w.ID}); err != nil {
		return nil, fmt.Errorf("set doc props: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	if err := writeRow(f, 1, toAny(RegisterHeader)); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(RegisterHeader), 1)
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("apply header style: %w", err)
	}
	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for i, d := range rows {
		if err := writeRow(f, i+2, registerRow(numbers[d.InspectionID], d)); err != nil {
			return nil, err
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func registerRow(number int, d domain.DefectWithRemediation) []any {
	row := []any{
		fmt.Sprintf("#%d", number),
		d.ID,
		d.Description,
		d.StandardReference,
		d.Location,
		string(d.Severity),
		d.ResponsibleParty,
		deref(d.Deadline),
		strings.Join(d.Photos, "\n"),
	}
	if rm := d.Remediation; rm != nil {
		row = append(row, string(rm.Status), deref(rm.CompletedAt), deref(rm.VerifiedAt), deref(rm.VerifiedBy), rm.VerificationNotes)
	} else {
		row = append(row, "", "", "", "", "")
	}
	return row
}

func writeRow(f *excelize.File, n int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return fmt.Errorf("row %d: %w", n, err)
	}
	if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", n, err)
	}
	return nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
