package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/credential"
	"github.com/joseph-ayodele/docanalysis/internal/entity"
	"github.com/joseph-ayodele/docanalysis/internal/normalize"
	"github.com/joseph-ayodele/docanalysis/internal/poller"
	"github.com/joseph-ayodele/docanalysis/internal/transport"
)

// EndpointConfig names the remote resource and how to authenticate to it.
type EndpointConfig struct {
	URL        string   `validate:"required,http_url"`
	ModelID    string   `validate:"omitempty,max=64"`
	APIVersion string   `validate:"omitempty,max=32"`
	Features   []string `validate:"omitempty,dive,required"`

	Auth common.AuthConfig `validate:"-"`
}

// EndpointFromConfig builds the endpoint from loaded configuration.
func EndpointFromConfig(cfg *common.Config) EndpointConfig {
	return EndpointConfig{
		URL:        cfg.Endpoint.URL,
		ModelID:    cfg.Endpoint.ModelID,
		APIVersion: cfg.Endpoint.APIVersion,
		Features:   cfg.Endpoint.Features,
		Auth:       cfg.Auth,
	}
}

func (e EndpointConfig) transportEndpoint() transport.Endpoint {
	return transport.EndpointFromConfig(common.EndpointConfig{
		URL:        e.URL,
		ModelID:    e.ModelID,
		APIVersion: e.APIVersion,
		Features:   e.Features,
	})
}

// ContentHash is the hex SHA-256 of a document, as recorded in the job ledger.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Request is one document to analyze.
type Request struct {
	File        []byte
	ContentType string
	FileName    string
}

// JobLedger records job bookkeeping. Results are never stored.
type JobLedger interface {
	SaveJob(ctx context.Context, job entity.AnalysisJob) error
}

// Service orchestrates one analysis: validate, authenticate, submit, poll, normalize.
type Service struct {
	transport  poller.Transport
	creds      *credential.Cache
	pollCfg    poller.Config
	pollerOpts []poller.Option
	ledger     JobLedger
	validate   *validator.Validate
	logger     *slog.Logger
}

type Option func(*Service)

func WithTransport(t poller.Transport) Option {
	return func(s *Service) {
		if t != nil {
			s.transport = t
		}
	}
}

func WithCredentialCache(c *credential.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.creds = c
		}
	}
}

func WithPollConfig(cfg poller.Config) Option {
	return func(s *Service) { s.pollCfg = cfg }
}

// WithPollerOptions passes options through to each job's poller.
func WithPollerOptions(opts ...poller.Option) Option {
	return func(s *Service) { s.pollerOpts = append(s.pollerOpts, opts...) }
}

func WithLedger(l JobLedger) Option {
	return func(s *Service) { s.ledger = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{
		pollCfg:  poller.ConfigFromCommon(common.NewDefaultConfig().Poll),
		validate: common.NewStructValidator(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.transport == nil {
		s.transport = transport.NewClient(transport.WithLogger(s.logger))
	}
	if s.creds == nil {
		s.creds = credential.NewCache(credential.NewResolver(credential.WithLogger(s.logger)).Resolve)
	}
	return s
}

// NewServiceFromConfig wires the transport, retry policy, pacing and polling from cfg.
func NewServiceFromConfig(cfg *common.Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	client := transport.NewClient(
		transport.WithHTTPClient(&http.Client{Timeout: cfg.Endpoint.HTTPTimeout.Duration}),
		transport.WithPolicy(transport.PolicyFromConfig(cfg.Retry)),
		transport.WithRateLimit(cfg.Endpoint.RequestsPerSecond),
		transport.WithLogger(logger),
	)
	base := []Option{
		WithTransport(client),
		WithPollConfig(poller.ConfigFromCommon(cfg.Poll)),
		WithLogger(logger),
	}
	return NewService(append(base, opts...)...)
}

// Analyze runs one document through the remote layout model and returns the
// normalized result. On any error no result is returned.
func (s *Service) Analyze(ctx context.Context, req Request, ep EndpointConfig) (*entity.AnalysisResult, error) {
	start := time.Now()
	logger := common.LoggerFromContext(ctx, s.logger).With("file_name", req.FileName)
	req.ContentType = constants.NormalizeContentType(req.ContentType)

	if err := validateRequest(req); err != nil {
		logger.Warn("analyzer.request.invalid", "error", err)
		return nil, err
	}
	if err := validateEndpoint(s.validate, ep); err != nil {
		logger.Warn("analyzer.endpoint.invalid", "error", err)
		return nil, err
	}

	cred, err := s.creds.Get(ctx, ep.Auth)
	if err != nil {
		logger.Error("analyzer.credential.failed", "error", err)
		return nil, err
	}

	opts := append([]poller.Option{
		poller.WithLogger(logger),
		poller.WithObserver(func(ctx context.Context, job entity.AnalysisJob) {
			s.record(ctx, logger, job)
		}),
	}, s.pollerOpts...)
	p := poller.New(s.transport, s.pollCfg, opts...)

	out, err := p.Run(ctx, ep.transportEndpoint(), cred, poller.Document{
		File:        req.File,
		ContentType: req.ContentType,
		FileName:    req.FileName,
		ContentHash: ContentHash(req.File),
	})
	if err != nil {
		if errors.Is(err, common.ErrAuth) {
			s.creds.Invalidate()
		}
		logger.Error("analyzer.analyze.failed", "kind", common.KindOf(err), "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	res, err := normalize.Normalize(out.Payload)
	if err != nil {
		job := out.Job
		kind, msg := string(common.KindOf(err)), err.Error()
		job.Status = constants.JobStatusFailed
		job.ErrorKind, job.ErrorMessage = &kind, &msg
		s.record(ctx, logger, job)
		logger.Error("analyzer.normalize.failed", "job_id", out.Job.ID, "error", err)
		return nil, err
	}

	res.Metadata.JobID = out.Job.ID
	res.Metadata.FileName = req.FileName
	res.Metadata.FileSize = len(req.File)
	res.Metadata.ContentType = req.ContentType
	res.Metadata.ElapsedMs = time.Since(start).Milliseconds()

	pages := res.Summary.PageCount
	job := out.Job
	job.PageCount = &pages
	s.record(ctx, logger, job)

	logger.Info("analyzer.analyze.ok",
		"job_id", out.Job.ID,
		"pages", res.Summary.PageCount,
		"tables", res.Summary.TableCount,
		"paragraphs", res.Summary.ParagraphCount,
		"polls", out.Job.Polls,
		"elapsed_ms", res.Metadata.ElapsedMs,
	)
	return res, nil
}

// record writes the job to the ledger; failures are logged and never surface.
func (s *Service) record(ctx context.Context, logger *slog.Logger, job entity.AnalysisJob) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		logger.Warn("analyzer.ledger.save_failed", "job_id", job.ID, "status", job.Status, "error", err)
	}
}
