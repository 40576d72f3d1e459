package students

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/schoolhub/portal/internal/school"
)

const rosterSheet = "Students"

var rosterHeader = []any{"Student ID", "Name", "Email", "Class", "Section", "Roll No", "Parent", "Parent Phone", "Total Fee", "Fee Status"}

// WriteRoster writes students as an .xlsx workbook.
func WriteRoster(w io.Writer, students []school.Student) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName(f.GetSheetName(0), rosterSheet); err != nil {
		return fmt.Errorf("students: name sheet: %w", err)
	}
	if err := f.SetSheetRow(rosterSheet, "A1", &rosterHeader); err != nil {
		return fmt.Errorf("students: write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetRowStyle(rosterSheet, 1, 1, bold)
	}

	for i, st := range students {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			st.StudentID, st.User.Name, st.User.Email, st.Class.String(), st.Section,
			st.RollNumber.String(), st.ParentName, st.ParentPhone, st.TotalFee, st.FeeStatus,
		}
		if err := f.SetSheetRow(rosterSheet, cell, &row); err != nil {
			return fmt.Errorf("students: write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(rosterSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("students: freeze header: %w", err)
	}
	_, err = f.WriteTo(w)
	return err
}
