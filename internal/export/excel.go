// Package export renders booking reports as xlsx workbooks.
package export

import (
	"errors"
	"fmt"
	"io"
	"time"

	"beautybot/internal/model"

	"github.com/xuri/excelize/v2"
)

const (
	SheetBookings = "Записи"
	SheetSummary  = "Сводка"
)

var bookingColumns = []string{"ID", "Дата и время", "Услуга", "Специалист", "Клиент", "ID клиента", "Статус", "Создана"}

type workbook struct {
	file  *excelize.File
	sheet string
	row   int
}

func (w *workbook) addSheet(name string) error {
	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheet = name
	w.row = 1
	return nil
}

func (w *workbook) writeHeader(columns []string) error {
	if err := w.writeRow(toCells(columns)); err != nil {
		return err
	}
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil
	}
	start, _ := excelize.CoordinatesToCellName(1, w.row-1)
	end, _ := excelize.CoordinatesToCellName(len(columns), w.row-1)
	_ = w.file.SetCellStyle(w.sheet, start, end, style)
	return nil
}

func (w *workbook) writeRow(values []any) error {
	if w.sheet == "" {
		return errors.New("no active sheet")
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.row)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.sheet, cell, v); err != nil {
			return err
		}
	}
	w.row++
	return nil
}

func toCells(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// WriteBookings writes one row per booking and, when stats is set, a summary sheet.
// Times are rendered in loc.
func WriteBookings(out io.Writer, bookings []model.BookingView, stats *model.BookingStats, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	w := &workbook{file: excelize.NewFile()}
	defer func() { _ = w.file.Close() }()

	if err := w.addSheet(SheetBookings); err != nil {
		return err
	}
	if err := w.writeHeader(bookingColumns); err != nil {
		return err
	}
	for _, b := range bookings {
		row := []any{
			b.ID,
			b.DateTime.In(loc).Format(model.SlotLayout),
			b.ServiceTitle,
			b.SpecialistName,
			b.UserName,
			b.UserID,
			statusLabel(b.Status),
			b.CreatedAt.In(loc).Format(model.SlotLayout),
		}
		if err := w.writeRow(row); err != nil {
			return fmt.Errorf("write booking %d: %w", b.ID, err)
		}
	}
	_ = w.file.SetColWidth(SheetBookings, "B", "E", 20)

	if stats != nil {
		if err := w.addSheet(SheetSummary); err != nil {
			return err
		}
		for _, row := range [][]any{
			{"Всего записей", stats.Total},
			{"Активных", stats.Active},
			{"Отменённых", stats.Cancelled},
			{"На сегодня", stats.Today},
		} {
			if err := w.writeRow(row); err != nil {
				return err
			}
		}
	}

	if err := w.file.Write(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// FileName names an export made at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("bookings_%s.xlsx", t.Format("20060102_1504"))
}

func statusLabel(status string) string {
	switch status {
	case model.BookingStatusActive:
		return "активна"
	case model.BookingStatusCancelled:
		return "отменена"
	}
	return status
}
