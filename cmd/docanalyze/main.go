package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joseph-ayodele/docanalysis/internal/analyzer"
	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/export"
	"github.com/joseph-ayodele/docanalysis/internal/repository"
)

const usage = `usage: docanalyze <command> [flags]

commands:
  analyze <file>     analyze one document and print or write the result
  watch <dir>...     analyze documents as they appear in directories
  serve              run the gRPC analysis service
  jobs               export the job ledger as XLSX

Run "docanalyze <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "analyze":
		err = runAnalyze(ctx, args, os.Stdout)
	case "watch":
		err = runWatch(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "jobs":
		err = runJobs(ctx, args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "error:", common.UserMessage(err))
		if common.KindOf(err) == "" {
			fmt.Fprintln(os.Stderr, "detail:", err)
		}
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode gives each error kind its own status so scripts can branch on it.
func exitCode(err error) int {
	switch common.KindOf(err) {
	case common.KindConfig:
		return 2
	case common.KindAuth:
		return 3
	case common.KindTransient:
		return 4
	case common.KindPermanent:
		return 5
	case common.KindTimeout:
		return 6
	case common.KindMalformedPayload:
		return 7
	}
	return 1
}

// commonFlags are registered on every command.
type commonFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", os.Getenv("DOCANALYZE_CONFIG"), "path to a TOML config file")
	fs.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	fs.StringVar(&c.logFormat, "log-format", "", "text or json (overrides config)")
}

// load reads and validates configuration and installs the logger.
func (c *commonFlags) load() (*common.Config, *slog.Logger, error) {
	cfg, err := common.LoadConfig(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = strings.ToLower(c.logLevel)
	}
	if c.logFormat != "" {
		cfg.Log.Format = strings.ToLower(c.logFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, cfg common.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app is the wiring shared by the commands.
type app struct {
	cfg      *common.Config
	logger   *slog.Logger
	db       *repository.DB
	jobs     repository.AnalysisJobRepository
	analyzer *analyzer.Service
	exporter *export.Service
	endpoint analyzer.EndpointConfig
}

// newApp opens the ledger when a DSN is configured. requireLedger makes a
// missing DSN a config error.
func newApp(ctx context.Context, cfg *common.Config, logger *slog.Logger, requireLedger bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, endpoint: analyzer.EndpointFromConfig(cfg)}

	if cfg.Database.DSN == "" && requireLedger {
		return nil, common.ConfigError("DB_URL (database.dsn) is required for this command")
	}
	if cfg.Database.DSN != "" {
		db, err := repository.Open(ctx, repository.ConfigFromCommon(cfg.Database), logger)
		if err != nil {
			return nil, err
		}
		if err := db.HealthCheck(ctx, cfg.Database.DialTimeout.Duration, logger); err != nil {
			db.Close(logger)
			return nil, err
		}
		a.db = db
		a.jobs = repository.NewAnalysisJobRepository(db, logger)
	}

	var opts []analyzer.Option
	if a.jobs != nil {
		opts = append(opts, analyzer.WithLedger(a.jobs))
	}
	a.analyzer = analyzer.NewServiceFromConfig(cfg, logger, opts...)
	a.exporter = export.NewService(a.jobs, logger)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close(a.logger)
	}
}
