// Package export renders bookings as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"studioflow/internal/booking"
	"studioflow/internal/models"
)

const (
	SheetName = "Reservas"

	dateLayout = "02/01/2006"
	timeLayout = "02/01/2006 15:04"
	headerRow  = 2
)

var headers = []string{"ID", "Sala", "Cliente", "Início", "Fim", "Horas", "Status", "Valor (R$)"}

var statusFills = map[string]string{
	models.StatusPending:   "#FFEB9C",
	models.StatusConfirmed: "#C6EFCE",
	models.StatusCompleted: "#DDEBF7",
	models.StatusCanceled:  "#FFC7CE",
}

// BookingsWorkbook builds a single-sheet workbook with one row per booking,
// a period title and a total row that leaves canceled bookings out.
// The caller owns the returned file and must Close it.
func BookingsWorkbook(bookings []*models.Booking, rooms []*models.Room, from, to time.Time, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.UTC
	}
	roomNames := make(map[int64]string, len(rooms))
	for _, r := range rooms {
		roomNames[r.ID] = r.Name
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetCellValue(SheetName, "A1", fmt.Sprintf("Período: %s - %s", from.In(loc).Format(dateLayout), to.In(loc).Format(dateLayout)))
	_ = f.MergeCell(SheetName, "A1", lastCol+"1")
	if style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err == nil {
		_ = f.SetCellStyle(SheetName, "A1", "A1", style)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		_ = f.SetCellValue(SheetName, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err == nil {
		_ = f.SetCellStyle(SheetName, "A2", lastCol+"2", style)
	}

	statusStyles := make(map[string]int, len(statusFills))
	for status, color := range statusFills {
		style, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("error creating style: %w", err)
		}
		statusStyles[status] = style
	}

	total := decimal.Zero
	row := headerRow + 1
	for _, b := range bookings {
		name := b.RoomName
		if name == "" {
			name = roomNames[b.RoomID]
		}
		values := []interface{}{
			b.ID,
			name,
			b.RequesterID,
			b.StartTime.In(loc).Format(timeLayout),
			b.EndTime.In(loc).Format(timeLayout),
			b.Duration().Hours(),
			b.Status,
			b.TotalPrice.InexactFloat64(),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing row %d: %w", row, err)
		}
		if style, ok := statusStyles[b.Status]; ok {
			statusCell, _ := excelize.CoordinatesToCellName(7, row)
			_ = f.SetCellStyle(SheetName, statusCell, statusCell, style)
		}
		if booking.IsActive(b.Status) || b.Status == models.StatusCompleted {
			total = total.Add(b.TotalPrice)
		}
		row++
	}

	_ = f.SetCellValue(SheetName, fmt.Sprintf("G%d", row), "Total")
	_ = f.SetCellValue(SheetName, fmt.Sprintf("H%d", row), total.InexactFloat64())
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, NumFmt: 2}); err == nil {
		_ = f.SetCellStyle(SheetName, fmt.Sprintf("G%d", row), fmt.Sprintf("H%d", row), style)
	}

	_ = f.SetColWidth(SheetName, "A", "A", 8)
	_ = f.SetColWidth(SheetName, "B", "C", 20)
	_ = f.SetColWidth(SheetName, "D", "E", 18)
	_ = f.SetColWidth(SheetName, "F", "H", 12)
	return f, nil
}

// WriteXLSX streams the workbook to w.
func WriteXLSX(w io.Writer, bookings []*models.Booking, rooms []*models.Room, from, to time.Time, loc *time.Location) error {
	f, err := BookingsWorkbook(bookings, rooms, from, to, loc)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// SaveToDir writes the workbook under dir and returns the file path.
func SaveToDir(dir string, bookings []*models.Booking, rooms []*models.Room, from, to time.Time, loc *time.Location) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := BookingsWorkbook(bookings, rooms, from, to, loc)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, FileName(from, to))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}

// FileName is the download name for a period export.
func FileName(from, to time.Time) string {
	return fmt.Sprintf("reservas_%s_a_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
}
