package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/user/examslots/internal/model"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the generated workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const sheetName = "Slots"

var headers = []string{
	"Date", "Time", "Location", "Region", "Town", "Exam type",
	"Categories", "Places left", "Translator", "First seen",
}

// SlotsWorkbook renders slots into an xlsx workbook, one row per slot
func SlotsWorkbook(slots []*model.Slot, scrapedAt *time.Time) (*bytes.Buffer, string, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	f.SetColWidth(sheetName, "A", "B", 12)
	f.SetColWidth(sheetName, "C", "C", 28)
	f.SetColWidth(sheetName, "D", "I", 12)
	f.SetColWidth(sheetName, "J", "J", 20)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	for i, h := range headers {
		c := cell(i+1, 1)
		f.SetCellValue(sheetName, c, h)
		f.SetCellStyle(sheetName, c, c, headerStyle)
	}
	f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	for i, s := range slots {
		row := i + 2
		f.SetCellValue(sheetName, cell(1, row), s.DateStr)
		f.SetCellValue(sheetName, cell(2, row), s.TimeStr)
		f.SetCellValue(sheetName, cell(3, row), s.Location)
		if s.Region != nil {
			f.SetCellValue(sheetName, cell(4, row), *s.Region)
		}
		if s.Town != nil {
			f.SetCellValue(sheetName, cell(5, row), *s.Town)
		}
		if s.ExamType != nil {
			f.SetCellValue(sheetName, cell(6, row), string(*s.ExamType))
		}
		f.SetCellValue(sheetName, cell(7, row), s.Categories)
		f.SetCellValue(sheetName, cell(8, row), s.PlacesLeft)
		f.SetCellValue(sheetName, cell(9, row), yesNo(s.HasTranslator))
		f.SetCellValue(sheetName, cell(10, row), s.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, "", fmt.Errorf("failed to write workbook: %w", err)
	}

	stamp := time.Now().UTC()
	if scrapedAt != nil {
		stamp = scrapedAt.UTC()
	}
	filename := fmt.Sprintf("exam-slots-%s.xlsx", stamp.Format("20060102-1504"))
	return buf, filename, nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
