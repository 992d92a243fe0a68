package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/analyzer"
	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/entity"
	"github.com/joseph-ayodele/docanalysis/internal/export"
	"github.com/joseph-ayodele/docanalysis/internal/repository"
)

// Analyzer is the orchestrator as seen by ingestion.
type Analyzer interface {
	Analyze(ctx context.Context, req analyzer.Request, ep analyzer.EndpointConfig) (*entity.AnalysisResult, error)
}

// FSIngestor reads documents from the local filesystem, analyzes them and
// writes the results next to each other in OutputDir.
type FSIngestor struct {
	Analyzer  Analyzer
	Endpoint  analyzer.EndpointConfig
	Jobs      repository.AnalysisJobRepository // optional; enables deduplication
	Exporter  *export.Service
	OutputDir string
	WriteXLSX bool
	Logger    *slog.Logger
}

func NewFSIngestor(a Analyzer, ep analyzer.EndpointConfig, jobs repository.AnalysisJobRepository, exporter *export.Service, outputDir string, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	if exporter == nil {
		exporter = export.NewService(jobs, logger)
	}
	return &FSIngestor{
		Analyzer:  a,
		Endpoint:  ep,
		Jobs:      jobs,
		Exporter:  exporter,
		OutputDir: outputDir,
		Logger:    logger,
	}
}

func (i *FSIngestor) IngestPath(ctx context.Context, path string, force bool) (Result, error) {
	out := Result{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, err
	}
	out.SourcePath = abs

	contentType := constants.ContentTypeForExt(filepath.Ext(abs))
	if contentType == "" {
		return out, common.ConfigError("unsupported or missing extension: %q", filepath.Ext(abs))
	}
	out.ContentType = contentType

	data, err := os.ReadFile(abs)
	if err != nil {
		i.Logger.Error("ingest.read.failed", "path", abs, "error", err)
		return out, err
	}
	out.HashHex = analyzer.ContentHash(data)

	if !force && i.Jobs != nil {
		prev, err := i.Jobs.FindLatestByHash(ctx, out.HashHex, constants.JobStatusSucceeded)
		switch {
		case err == nil:
			out.Deduplicated = true
			out.JobID = prev.ID
			i.Logger.Info("ingest.deduplicated", "path", abs, "job_id", prev.ID)
			return out, nil
		case !errors.Is(err, common.ErrNotFound):
			i.Logger.Warn("ingest.dedup_lookup.failed", "path", abs, "error", err)
		}
	}

	start := time.Now()
	res, err := i.Analyzer.Analyze(ctx, analyzer.Request{
		File:        data,
		ContentType: contentType,
		FileName:    filepath.Base(abs),
	}, i.Endpoint)
	if err != nil {
		i.Logger.Error("ingest.analyze.failed", "path", abs, "kind", common.KindOf(err), "error", err)
		return out, err
	}
	out.JobID = res.Metadata.JobID
	out.Pages = res.Summary.PageCount
	out.AnalyzedAt = time.Now().UTC()

	if i.OutputDir != "" {
		paths, err := i.Exporter.WriteResult(i.OutputDir, filepath.Base(abs), res, i.WriteXLSX)
		out.Outputs = paths
		if err != nil {
			i.Logger.Error("ingest.write.failed", "path", abs, "error", err)
			return out, fmt.Errorf("write results: %w", err)
		}
	}
	i.Logger.Info("ingest.ok", "path", abs, "job_id", out.JobID, "pages", out.Pages,
		"outputs", len(out.Outputs), "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}
