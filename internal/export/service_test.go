package export

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/entity"
	"github.com/joseph-ayodele/docanalysis/internal/repository"
)

func sampleResult() *entity.AnalysisResult {
	title := "title"
	value := "Ada"
	res := &entity.AnalysisResult{
		FullText: "Report",
		Pages:    []entity.Page{{Number: 1, Width: 8.5, Height: 11, Unit: "inch"}},
		Tables: []entity.Table{{
			RowCount:    2,
			ColumnCount: 2,
			Cells: []entity.Cell{
				{RowIndex: 0, ColumnIndex: 0, Content: "Header", RowSpan: 1, ColumnSpan: 2, Kind: "columnHeader"},
				{RowIndex: 1, ColumnIndex: 0, Content: "a", RowSpan: 1, ColumnSpan: 1},
				{RowIndex: 1, ColumnIndex: 1, Content: "b", RowSpan: 1, ColumnSpan: 1},
			},
		}},
		Paragraphs: []entity.Paragraph{
			{Role: &title, Content: "Report", Regions: []entity.BoundingRegion{{PageNumber: 1}}},
			{Content: "Body text"},
		},
		KeyValuePairs: []entity.KeyValuePair{{Key: "Name", Value: &value}},
		Headers:       map[string][]entity.Heading{"h1": {{Content: "Report"}}},
		Metadata:      entity.DocumentMetadata{FileName: "report.pdf", JobID: "job-1"},
	}
	res.Summary = res.ComputeSummary()
	return res
}

func openWorkbook(t *testing.T, b []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestResultXLSX_TablesAndSpans(t *testing.T) {
	svc := NewService(nil, nil)
	b, err := svc.ResultXLSX(sampleResult())
	require.NoError(t, err)

	f := openWorkbook(t, b)
	assert.Equal(t, []string{"Summary", "Table 1", "Paragraphs", "Key Values"}, f.GetSheetList())

	v, err := f.GetCellValue("Table 1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Header", v)
	v, _ = f.GetCellValue("Table 1", "B2")
	assert.Equal(t, "b", v)

	merged, err := f.GetMergeCells("Table 1")
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "A1", merged[0].GetStartAxis())
	assert.Equal(t, "B1", merged[0].GetEndAxis())

	v, _ = f.GetCellValue("Summary", "B1")
	assert.Equal(t, "report.pdf", v)
	v, _ = f.GetCellValue("Paragraphs", "A2")
	assert.Equal(t, "title", v)
	v, _ = f.GetCellValue("Key Values", "B2")
	assert.Equal(t, "Ada", v)
}

func TestResultJSON_UsesSnakeCase(t *testing.T) {
	b, err := NewService(nil, nil).ResultJSON(sampleResult())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "Report", decoded["full_text"])
	summary := decoded["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["table_count"])
}

func TestWriteResult(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	paths, err := NewService(nil, nil).WriteResult(dir, "scan.pdf", sampleResult(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "scan.json"), filepath.Join(dir, "scan.xlsx")}, paths)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestExportJobsXLSX(t *testing.T) {
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{DSN: ":memory:"}, slog.Default())
	require.NoError(t, err)
	defer db.Close(nil)
	jobs := repository.NewAnalysisJobRepository(db, nil)

	kind := "timeout"
	require.NoError(t, jobs.SaveJob(ctx, entity.AnalysisJob{ID: "j1", Status: constants.JobStatusSucceeded, FileName: "a.pdf", SubmittedAt: time.Now()}))
	require.NoError(t, jobs.SaveJob(ctx, entity.AnalysisJob{ID: "j2", Status: constants.JobStatusFailed, ErrorKind: &kind, SubmittedAt: time.Now().Add(time.Minute)}))

	b, err := NewService(jobs, nil).ExportJobsXLSX(ctx, repository.JobFilter{})
	require.NoError(t, err)

	f := openWorkbook(t, b)
	rows, err := f.GetRows("Jobs")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "j2", rows[1][0])
	assert.Equal(t, "timeout", rows[1][9])
	assert.Equal(t, "j1", rows[2][0])
}

func TestExportJobsXLSX_NoLedger(t *testing.T) {
	_, err := NewService(nil, nil).ExportJobsXLSX(context.Background(), repository.JobFilter{})
	assert.Error(t, err)
}
