package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

// Service is a tiny façade over the archive that produces XLSX bytes for exports.
type Service struct {
	records repository.ArchiveRepository
	logger  *slog.Logger
}

func NewService(records repository.ArchiveRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{records: records, logger: logger}
}

// ExportArchiveXLSX returns an XLSX workbook (as bytes) of archived documents.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> the full archive.
func (s *Service) ExportArchiveXLSX(ctx context.Context, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	// Normalize dates (date-only, UTC)
	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := time.Now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}

	recs, err := s.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	recs = filterByArchivedDate(recs, fromDate, toDate)

	f := excelize.NewFile()
	const sheet = "Archive"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Archived At",
		"Outcome",
		"Transaction Date",
		"Vendor",
		"Total",
		"Currency",
		"Resolved By",
		"Reasons",
		"Archived Path",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, r.ArchivedAt.UTC().Format("2006-01-02 15:04:05"))
		write(2, string(r.FinalState))

		if fl := r.Fields; fl != nil {
			write(3, fl.TxDate)
			write(4, fl.Vendor)
			write(5, fl.Total)
			write(6, fl.CurrencyCode)
		}
		write(7, r.ResolvedBy)
		write(8, truncate(joinReasons(r.Reasons), 140))
		write(9, r.ArchivedPath)

		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 20) // archived at
	_ = f.SetColWidth(sheet, "B", "B", 18) // outcome
	_ = f.SetColWidth(sheet, "C", "C", 14) // date
	_ = f.SetColWidth(sheet, "D", "D", 28) // vendor
	_ = f.SetColWidth(sheet, "E", "F", 12) // total, currency
	_ = f.SetColWidth(sheet, "G", "G", 16) // resolver
	_ = f.SetColWidth(sheet, "H", "H", 48) // reasons
	_ = f.SetColWidth(sheet, "I", "I", 60) // path

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func filterByArchivedDate(recs []*entity.ArchiveRecord, from, to *time.Time) []*entity.ArchiveRecord {
	if from == nil && to == nil {
		return recs
	}
	out := recs[:0]
	for _, r := range recs {
		day := r.ArchivedAt.UTC().Truncate(24 * time.Hour)
		if from != nil && day.Before(*from) {
			continue
		}
		if to != nil && day.After(*to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func joinReasons(reasons []entity.Reason) string {
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
