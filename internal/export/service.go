package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/entity"
	"github.com/joseph-ayodele/docanalysis/internal/repository"
)

const (
	summarySheet    = "Summary"
	paragraphsSheet = "Paragraphs"
	keyValuesSheet  = "Key Values"
	jobsSheet       = "Jobs"
	maxCellText     = 32767
)

// Service renders analysis results and the job ledger as downloadable files.
type Service struct {
	jobs   repository.AnalysisJobRepository
	logger *slog.Logger
}

// NewService builds the exporter; jobs may be nil when no ledger is configured.
func NewService(jobs repository.AnalysisJobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// ResultJSON returns the indented JSON form of a result.
func (s *Service) ResultJSON(res *entity.AnalysisResult) ([]byte, error) {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}

// ResultXLSX returns a workbook with a summary sheet, one sheet per table
// (spanning cells merged) and the paragraphs and key/value pairs.
func (s *Service) ResultXLSX(res *entity.AnalysisResult) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	writeSummary(f, res)

	for i, t := range res.Tables {
		sheet := fmt.Sprintf("Table %d", i+1)
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
		if err := writeTable(f, sheet, t); err != nil {
			return nil, fmt.Errorf("table %d: %w", i+1, err)
		}
	}

	if _, err := f.NewSheet(paragraphsSheet); err != nil {
		return nil, err
	}
	writeRows(f, paragraphsSheet, []string{"Role", "Content", "Page"}, len(res.Paragraphs), func(i int) []any {
		p := res.Paragraphs[i]
		role, page := "", ""
		if p.Role != nil {
			role = *p.Role
		}
		if len(p.Regions) > 0 {
			page = fmt.Sprint(p.Regions[0].PageNumber)
		}
		return []any{role, truncate(p.Content, maxCellText), page}
	})
	_ = f.SetColWidth(paragraphsSheet, "B", "B", 80)

	if len(res.KeyValuePairs) > 0 {
		if _, err := f.NewSheet(keyValuesSheet); err != nil {
			return nil, err
		}
		writeRows(f, keyValuesSheet, []string{"Key", "Value", "Confidence"}, len(res.KeyValuePairs), func(i int) []any {
			kv := res.KeyValuePairs[i]
			var value, conf any = "", ""
			if kv.Value != nil {
				value = *kv.Value
			}
			if kv.Confidence != nil {
				conf = *kv.Confidence
			}
			return []any{kv.Key, value, conf}
		})
		_ = f.SetColWidth(keyValuesSheet, "A", "B", 36)
	}

	idx, _ := f.GetSheetIndex(summarySheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.result_xlsx.ok",
		"job_id", res.Metadata.JobID,
		"tables", len(res.Tables),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, res *entity.AnalysisResult) {
	rows := [][]any{
		{"File", res.Metadata.FileName},
		{"Content Type", res.Metadata.ContentType},
		{"File Size (bytes)", res.Metadata.FileSize},
		{"Job ID", res.Metadata.JobID},
		{"Model", res.Metadata.ModelID},
		{"API Version", res.Metadata.APIVersion},
		{"Pages", res.Summary.PageCount},
		{"Tables", res.Summary.TableCount},
		{"Paragraphs", res.Summary.ParagraphCount},
		{"Words", res.Metadata.WordCount},
		{"Lines", res.Metadata.LineCount},
		{"Elapsed (ms)", res.Metadata.ElapsedMs},
	}
	for _, lvl := range constants.AllHeadingLevels() {
		rows = append(rows, []any{"Headings " + strings.ToUpper(string(lvl)), len(res.Headers[string(lvl)])})
	}
	for i, r := range rows {
		for j, v := range r {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			_ = f.SetCellValue(summarySheet, cell, v)
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 20)
	_ = f.SetColWidth(summarySheet, "B", "B", 48)
}

// writeTable places every cell at its grid position and merges spans.
func writeTable(f *excelize.File, sheet string, t entity.Table) error {
	for _, c := range t.Cells {
		top, err := excelize.CoordinatesToCellName(c.ColumnIndex+1, c.RowIndex+1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, top, truncate(c.Content, maxCellText)); err != nil {
			return err
		}
		if c.RowSpan > 1 || c.ColumnSpan > 1 {
			bottom, err := excelize.CoordinatesToCellName(c.ColumnIndex+max(c.ColumnSpan, 1), c.RowIndex+max(c.RowSpan, 1))
			if err != nil {
				return err
			}
			if err := f.MergeCell(sheet, top, bottom); err != nil {
				return err
			}
		}
	}
	if t.ColumnCount > 0 {
		last, _ := excelize.ColumnNumberToName(t.ColumnCount)
		_ = f.SetColWidth(sheet, "A", last, 18)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, headers []string, n int, row func(i int) []any) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i := 0; i < n; i++ {
		for j, v := range row(i) {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
}

// ExportJobsXLSX returns the ledger rows matching filter as a workbook.
func (s *Service) ExportJobsXLSX(ctx context.Context, filter repository.JobFilter) ([]byte, error) {
	if s.jobs == nil {
		return nil, fmt.Errorf("no job ledger configured")
	}
	start := time.Now()
	jobs, err := s.jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", jobsSheet); err != nil {
		return nil, err
	}
	headers := []string{"Job ID", "Status", "File", "Content Type", "Size", "Submitted", "Finished", "Polls", "Pages", "Error Kind", "Error"}
	writeRows(f, jobsSheet, headers, len(jobs), func(i int) []any {
		j := jobs[i]
		finished, pages, kind, msg := "", "", "", ""
		if j.FinishedAt != nil {
			finished = j.FinishedAt.UTC().Format(time.RFC3339)
		}
		if j.PageCount != nil {
			pages = fmt.Sprint(*j.PageCount)
		}
		if j.ErrorKind != nil {
			kind = *j.ErrorKind
		}
		if j.ErrorMessage != nil {
			msg = truncate(*j.ErrorMessage, 140)
		}
		return []any{j.ID, string(j.Status), j.FileName, j.ContentType, j.FileSize,
			j.SubmittedAt.UTC().Format(time.RFC3339), finished, j.Polls, pages, kind, msg}
	})
	_ = f.SetColWidth(jobsSheet, "A", "A", 38)
	_ = f.SetColWidth(jobsSheet, "C", "C", 32)
	_ = f.SetColWidth(jobsSheet, "F", "G", 22)
	_ = f.SetColWidth(jobsSheet, "K", "K", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.jobs_xlsx.ok",
		"rows", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// WriteResult writes <base>.json, and <base>.xlsx when withXLSX is set, into dir.
func (s *Service) WriteResult(dir, base string, res *entity.AnalysisResult, withXLSX bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))

	js, err := s.ResultJSON(res)
	if err != nil {
		return nil, err
	}
	jsonPath := filepath.Join(dir, base+".json")
	if err := os.WriteFile(jsonPath, js, 0o644); err != nil {
		return nil, fmt.Errorf("write json: %w", err)
	}
	paths := []string{jsonPath}

	if withXLSX {
		xl, err := s.ResultXLSX(res)
		if err != nil {
			return paths, err
		}
		xlsxPath := filepath.Join(dir, base+".xlsx")
		if err := os.WriteFile(xlsxPath, xl, 0o644); err != nil {
			return paths, fmt.Errorf("write xlsx: %w", err)
		}
		paths = append(paths, xlsxPath)
	}
	return paths, nil
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
