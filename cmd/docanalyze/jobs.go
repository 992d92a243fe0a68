package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/repository"
)

func runJobs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	var (
		cf     commonFlags
		out    string
		status string
		since  time.Duration
		limit  int
	)
	cf.register(fs)
	fs.StringVar(&out, "out", "jobs.xlsx", "workbook to write")
	fs.StringVar(&status, "status", "", "only jobs in this status (NOT_STARTED, RUNNING, SUCCEEDED, FAILED)")
	fs.DurationVar(&since, "since", 0, "only jobs submitted within this window, e.g. 24h")
	fs.IntVar(&limit, "limit", 0, "maximum rows (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := repository.JobFilter{Limit: limit}
	if status != "" {
		st, ok := constants.ParseJobStatus(status)
		if !ok {
			return common.ConfigError("unknown status %q", status)
		}
		filter.Status = st
	}
	if since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	cfg, logger, err := cf.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.exporter.ExportJobsXLSX(ctx, filter)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Println(out)
	return nil
}
