package main

import (
	"context"
	"flag"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docanalysis/internal/async"
	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/ingest"
)

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var (
		cf         commonFlags
		outDir     string
		withXLSX   bool
		initial    bool
		once       bool
		force      bool
		skipHidden bool
		workers    int
	)
	cf.register(fs)
	fs.StringVar(&outDir, "out", "", "output directory (overrides watch.output_dir)")
	fs.BoolVar(&withXLSX, "xlsx", false, "also write XLSX workbooks")
	fs.BoolVar(&initial, "initial", true, "analyze files already present at startup")
	fs.BoolVar(&once, "once", false, "analyze the directories once and exit")
	fs.BoolVar(&force, "force", false, "re-analyze files already analyzed successfully")
	fs.BoolVar(&skipHidden, "skip-hidden", true, "ignore dot files and directories")
	fs.IntVar(&workers, "workers", 0, "concurrent analyses (overrides watch.workers)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return common.ConfigError("watch needs at least one directory")
	}
	roots := fs.Args()

	cfg, logger, err := cf.load()
	if err != nil {
		return err
	}
	if outDir != "" {
		cfg.Watch.OutputDir = outDir
	}
	if withXLSX {
		cfg.Watch.WriteXLSX = true
	}
	if workers > 0 {
		cfg.Watch.Workers = workers
	}
	if cfg.Watch.OutputDir == "" {
		return common.ConfigError("an output directory is required (-out or watch.output_dir)")
	}

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ing := ingest.NewFSIngestor(a.analyzer, a.endpoint, a.jobs, a.exporter, cfg.Watch.OutputDir, logger)
	ing.WriteXLSX = cfg.Watch.WriteXLSX

	if once {
		for _, root := range roots {
			if _, _, err := ing.IngestDirectory(ctx, root, skipHidden); err != nil {
				return err
			}
		}
		return nil
	}

	queue := async.NewWorkerQueue(func(ctx context.Context, job async.Job) error {
		ctx = common.WithRequestID(ctx, job.TraceID)
		_, err := ing.IngestPath(ctx, job.Path, job.Force)
		return err
	}, logger,
		async.WithWorkers(cfg.Watch.Workers),
		async.WithQueueSize(cfg.Watch.QueueSize),
		async.WithProcessTimeout(cfg.Watch.ProcessTimeout.Duration),
	)

	g, gctx := errgroup.WithContext(ctx)
	events, errs, err := ingest.StartWatcher(gctx, ingest.WatchConfig{
		Roots:       roots,
		InitialScan: initial,
		Debounce:    cfg.Watch.Debounce.Duration,
		SkipHidden:  skipHidden,
		Logger:      logger,
	})
	if err != nil {
		queue.Shutdown(context.Background())
		return err
	}
	logger.Info("watch.started", "roots", roots, "output_dir", cfg.Watch.OutputDir, "workers", cfg.Watch.Workers)

	g.Go(func() error {
		for path := range events {
			job := async.Job{Path: path, Force: force, SubmittedAt: time.Now(), TraceID: uuid.NewString()}
			if err := queue.Enqueue(gctx, job); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for err := range errs {
			logger.Warn("watch.error", "error", err)
		}
		return nil
	})

	werr := g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Watch.ProcessTimeout.Duration)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	logger.Info("watch.stopped")
	if werr != nil && ctx.Err() == nil {
		return werr
	}
	return nil
}
