package license

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/xuri/excelize/v2"
)

// Columns of the license table, in display order
var Columns = []string{"Package", "Version", "License", "Rating"}

// SheetName is the worksheet written by Export
const SheetName = "Licenses"

// FormatReport renders entries as an aligned text table
func FormatReport(entries []Entry) string {
	if len(entries) == 0 {
		return "No packages found in the file."
	}
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(Columns, "\t"))
	fmt.Fprintln(tw, "-------\t-------\t-------\t------")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.Version, e.License, e.Rating)
	}
	tw.Flush()
	return strings.TrimRight(sb.String(), "\n")
}

// Rows converts entries to table rows keyed by Columns
func Rows(entries []Entry) []map[string]string {
	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]string{
			"Package": e.Name,
			"Version": e.Version,
			"License": e.License,
			"Rating":  e.Rating,
		})
	}
	return rows
}

// NewWorkbook builds an .xlsx workbook with one "Licenses" sheet
func NewWorkbook(rows []map[string]string) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		f.Close()
		return nil, err
	}

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(SheetName, "A1", "D1", style)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		values := make([]interface{}, len(Columns))
		for j, c := range Columns {
			values[j] = row[c]
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			f.Close()
			return nil, err
		}
	}
	_ = f.SetColWidth(SheetName, "A", "A", 40)
	_ = f.SetColWidth(SheetName, "B", "D", 22)
	return f, nil
}

// Export writes rows as an .xlsx workbook to path
func Export(rows []map[string]string, path string) error {
	f, err := NewWorkbook(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

// WriteWorkbook streams rows as an .xlsx workbook to w
func WriteWorkbook(rows []map[string]string, w io.Writer) error {
	f, err := NewWorkbook(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}
