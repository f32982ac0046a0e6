package report

import (
	"fmt"
	"io"
	"slices"

	"github.com/xuri/excelize/v2"
)

// WriteXLSX writes the report as a workbook with one sheet per table.
func (r *Report) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	sources := f.GetSheetName(0)
	if err := f.SetSheetName(sources, "Sources"); err != nil {
		return fmt.Errorf("report: rename sheet: %w", err)
	}
	rows := [][]any{{"source", "kind", "priority", "status", "error", "extracted", "rejected",
		"within_duplicates", "surviving", "cross_discarded", "contribution"}}
	for _, s := range r.Sources {
		rows = append(rows, []any{s.ID, s.Kind, s.Priority, string(s.Status), s.Error, s.Extracted,
			s.RejectedTotal(), s.DuplicatesTotal(), s.Surviving, s.CrossDiscarded, s.Contribution})
	}
	if err := writeRows(f, "Sources", rows); err != nil {
		return err
	}

	rows = [][]any{{"reason", "count"}}
	for _, reason := range sortedKeys(r.RejectionReasons) {
		rows = append(rows, []any{reason, r.RejectionReasons[reason]})
	}
	if err := writeSheet(f, "Rejections", rows); err != nil {
		return err
	}

	ids := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		ids[i] = s.ID
	}
	header := []any{""}
	for _, id := range ids {
		header = append(header, id)
	}
	rows = [][]any{header}
	for _, a := range ids {
		row := []any{a}
		for _, b := range ids {
			row = append(row, r.Overlap[a][b])
		}
		rows = append(rows, row)
	}
	if err := writeSheet(f, "Overlap", rows); err != nil {
		return err
	}

	rows = [][]any{{"split", "count"}}
	for _, split := range sortedKeys(r.Splits) {
		rows = append(rows, []any{split, r.Splits[split]})
	}
	if err := writeSheet(f, "Splits", rows); err != nil {
		return err
	}

	rows = [][]any{{"pass", "key_kind", "key", "ref", "description", "winner", "reason"}}
	for _, d := range r.Discards {
		rows = append(rows, []any{string(d.Pass), string(d.KeyKind), d.Key, d.Ref, d.Description, d.Winner, string(d.Reason)})
	}
	if err := writeSheet(f, "Discards", rows); err != nil {
		return err
	}

	return f.Write(w)
}

func writeSheet(f *excelize.File, name string, rows [][]any) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("report: new sheet %s: %w", name, err)
	}
	return writeRows(f, name, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("report: write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
