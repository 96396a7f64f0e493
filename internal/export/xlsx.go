// Package export renders the published history as a spreadsheet.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/TheEverestLab/coesg-data/internal/models"
)

const (
	PricesSheet = "Prices"
	QuotasSheet = "Quotas"
)

// WriteXLSX writes one row per round, newest first, with a column per
// category. Categories a round did not report are left blank.
func WriteXLSX(w io.Writer, history []models.RoundResult) error {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", PricesSheet); err != nil {
		_ = f.Close()
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(QuotasSheet); err != nil {
		_ = f.Close()
		return fmt.Errorf("add sheet: %w", err)
	}

	if err := writeSheet(f, PricesSheet, history, func(r models.RoundResult) map[models.Category]int { return r.Prices }); err != nil {
		_ = f.Close()
		return err
	}
	if err := writeSheet(f, QuotasSheet, history, func(r models.RoundResult) map[models.Category]int { return r.Quotas }); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Write(w); err != nil {
		_ = f.Close()
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, history []models.RoundResult, values func(models.RoundResult) map[models.Category]int) error {
	header := []any{"Round ID", "Round", "Closing (UTC)"}
	for _, cat := range models.Categories {
		header = append(header, "Cat "+string(cat))
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("%s header: %w", sheet, err)
	}

	for i, r := range history {
		row := []any{r.ID, r.RoundLabel, r.BiddingDate.String()}
		m := values(r)
		for _, cat := range models.Categories {
			if v, ok := m[cat]; ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
