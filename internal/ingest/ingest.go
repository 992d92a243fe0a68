package ingest

import (
	"context"
	"time"
)

// Result is the per-file ingest outcome.
type Result struct {
	SourcePath   string
	JobID        string
	Deduplicated bool
	HashHex      string
	ContentType  string
	Outputs      []string
	Pages        int
	AnalyzedAt   time.Time
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Ingestor analyzes files from disk.
type Ingestor interface {
	// IngestPath analyzes a single file; force skips deduplication.
	IngestPath(ctx context.Context, path string, force bool) (Result, error)
	// IngestDirectory analyzes all supported files under root.
	IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]Result, DirStats, error)
}
