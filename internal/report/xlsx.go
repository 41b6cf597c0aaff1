// Package report writes enriched record sets to an XLSX workbook: one
// combined Results sheet plus optional per-source sheets.
package report

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/litstack/litreview/internal/model"
)

// Options controls workbook layout.
type Options struct {
	// SeparateSheets adds one sheet per source type after the combined
	// Results sheet.
	SeparateSheets bool

	// MetricColumns lists journal metric columns, in output order.
	MetricColumns []string

	// AIFields lists enrichment fields produced by summarization, in
	// output order.
	AIFields []string
}

// Writer renders workbooks.
type Writer struct {
	opts Options
}

// NewWriter returns a Writer with the given layout.
func NewWriter(opts Options) *Writer {
	return &Writer{opts: opts}
}

// baseColumns are the bibliographic columns present on every sheet, before
// metric and AI columns.
var baseColumns = []string{
	"title", "link", "authors", "journal", "published", "doi", "pmid", "wos_id", "source_type",
}

// Write renders records into an XLSX workbook at path.
func (w *Writer) Write(records []model.BibliographicRecord, path string) error {
	file := xlsx.NewFile()

	if err := w.addSheet(file, "Results", records); err != nil {
		return err
	}

	if w.opts.SeparateSheets {
		for _, src := range []struct {
			name   string
			source model.SourceType
		}{
			{"PubMed", model.SourcePubMed},
			{"WOS", model.SourceWOS},
			{"ScienceDirect", model.SourceScienceDirect},
		} {
			subset := filterBySource(records, src.source)
			if len(subset) == 0 {
				continue
			}
			if err := w.addSheet(file, src.name, subset); err != nil {
				return err
			}
		}
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "report: save workbook %s", path)
	}
	zap.L().Info("wrote report",
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return nil
}

func (w *Writer) addSheet(file *xlsx.File, name string, records []model.BibliographicRecord) error {
	sheet, err := file.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "report: add sheet %s", name)
	}

	columns := w.columns()

	headerStyle := xlsx.NewStyle()
	headerStyle.Font.Bold = true
	headerStyle.ApplyFont = true

	header := sheet.AddRow()
	for _, col := range columns {
		cell := header.AddCell()
		cell.Value = col
		cell.SetStyle(headerStyle)
	}

	for i := range records {
		w.addRow(sheet, &records[i])
	}
	return nil
}

func (w *Writer) columns() []string {
	columns := append([]string(nil), baseColumns...)
	columns = append(columns, w.opts.MetricColumns...)
	columns = append(columns, w.opts.AIFields...)
	columns = append(columns, "merged_from")
	return columns
}

func (w *Writer) addRow(sheet *xlsx.Sheet, rec *model.BibliographicRecord) {
	row := sheet.AddRow()

	row.AddCell().Value = rec.Title

	linkCell := row.AddCell()
	if link := rec.TitleLink(); link != "" {
		linkCell.SetFormula(fmt.Sprintf(`HYPERLINK(%q,%q)`, link, link))
	}

	row.AddCell().Value = strings.Join(rec.Authors, "; ")
	row.AddCell().Value = rec.Journal
	row.AddCell().Value = rec.PublishedDate
	row.AddCell().Value = rec.DOI
	row.AddCell().Value = rec.PMID
	row.AddCell().Value = rec.WOSID
	row.AddCell().Value = string(rec.SourceType)

	for _, col := range w.opts.MetricColumns {
		row.AddCell().Value = rec.EnrichmentOrDefault(col, "")
	}
	for _, field := range w.opts.AIFields {
		row.AddCell().Value = rec.EnrichmentOrDefault(field, "")
	}

	row.AddCell().Value = provenance(rec.MergedFrom)
}

// provenance summarizes absorbed duplicates as "source:identifier" pairs.
func provenance(refs []model.RecordRef) string {
	if len(refs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		id := ref.DOI
		if id == "" {
			id = ref.PMID
		}
		if id == "" {
			id = ref.WOSID
		}
		if id == "" {
			id = ref.Title
		}
		parts = append(parts, string(ref.SourceType)+":"+id)
	}
	return strings.Join(parts, "; ")
}

func filterBySource(records []model.BibliographicRecord, source model.SourceType) []model.BibliographicRecord {
	var out []model.BibliographicRecord
	for _, r := range records {
		if r.SourceType == source {
			out = append(out, r)
		}
	}
	return out
}
