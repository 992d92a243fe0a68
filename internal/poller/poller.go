package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/credential"
	"github.com/joseph-ayodele/docanalysis/internal/entity"
	"github.com/joseph-ayodele/docanalysis/internal/transport"
)

// Transport is the remote side of a job: one submit, then repeated polls.
type Transport interface {
	Submit(ctx context.Context, ep transport.Endpoint, cred *credential.Credential, file []byte, contentType string) (string, error)
	Poll(ctx context.Context, ep transport.Endpoint, cred *credential.Credential, operationLocation string, budget *transport.Budget) (*transport.PollResult, error)
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	// Retries is the transient retry budget shared by all polls of one job.
	Retries int
}

func ConfigFromCommon(c common.PollConfig) Config {
	return Config{Interval: c.Interval.Duration, Timeout: c.Timeout.Duration, Retries: c.Retries}
}

// Observer receives a snapshot of the job after every state change.
type Observer func(ctx context.Context, job entity.AnalysisJob)

// Document is the input of one job.
type Document struct {
	File        []byte
	ContentType string
	FileName    string
	// ContentHash identifies the bytes for ledger deduplication; optional.
	ContentHash string
}

// Outcome is a finished, successful job.
type Outcome struct {
	Job     entity.AnalysisJob
	Payload json.RawMessage
}

type Poller struct {
	transport Transport
	cfg       Config
	now       func() time.Time
	sleep     transport.SleepFunc
	observer  Observer
	logger    *slog.Logger
}

type Option func(*Poller)

// WithClock replaces time.Now and the inter-poll wait.
func WithClock(now func() time.Time, sleep transport.SleepFunc) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Poller) { p.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(t Transport, cfg Config, opts ...Option) *Poller {
	defaults := ConfigFromCommon(common.NewDefaultConfig().Poll)
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	p := &Poller{
		transport: t,
		cfg:       cfg,
		now:       time.Now,
		sleep:     transport.Sleep,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run submits doc and polls until the job succeeds, fails, or Timeout elapses.
// The remote job is left alone when Run gives up.
func (p *Poller) Run(ctx context.Context, ep transport.Endpoint, cred *credential.Credential, doc Document) (*Outcome, error) {
	start := p.now()
	deadline := start.Add(p.cfg.Timeout)
	job := &entity.AnalysisJob{
		ID:          uuid.New().String(),
		Status:      constants.JobStatusNotStarted,
		FileName:    doc.FileName,
		ContentType: doc.ContentType,
		FileSize:    len(doc.File),
		ContentHash: doc.ContentHash,
		SubmittedAt: start,
	}
	logger := common.LoggerFromContext(ctx, p.logger).With("job_id", job.ID)

	// Bound real network waits too; the injected clock governs poll scheduling.
	runCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	loc, err := p.transport.Submit(runCtx, ep, cred, doc.File, doc.ContentType)
	if err != nil {
		err = p.contextError(ctx, runCtx, err)
		logger.Error("poller.submit.failed", "error", err, "elapsed_ms", p.since(start))
		return nil, p.fail(ctx, job, err)
	}
	job.OperationLocation = loc
	p.notify(ctx, job)
	logger.Info("poller.submit.ok", "elapsed_ms", p.since(start))

	budget := transport.NewBudget(p.cfg.Retries)
	for {
		if err := ctx.Err(); err != nil {
			return nil, p.fail(ctx, job, common.FromContext(err))
		}
		wait := p.cfg.Interval
		if remaining := deadline.Sub(p.now()); remaining < wait {
			wait = remaining
		}
		if wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return nil, p.fail(ctx, job, common.FromContext(err))
			}
		}
		if !p.now().Before(deadline) {
			err := common.TimeoutError(fmt.Sprintf("job still %s after %s (%d polls)", job.Status, p.cfg.Timeout, job.Polls), nil)
			logger.Warn("poller.job.timeout", "polls", job.Polls, "elapsed_ms", p.since(start))
			return nil, p.fail(ctx, job, err)
		}

		pr, err := p.transport.Poll(runCtx, ep, cred, loc, budget)
		polledAt := p.now()
		job.Polls++
		job.LastPolledAt = &polledAt
		if err != nil {
			err = p.contextError(ctx, runCtx, err)
			logger.Error("poller.poll.failed", "polls", job.Polls, "error", err)
			return nil, p.fail(ctx, job, err)
		}

		switch pr.Status {
		case constants.JobStatusSucceeded:
			job.Status = constants.JobStatusSucceeded
			job.FinishedAt = &polledAt
			p.notify(ctx, job)
			logger.Info("poller.job.succeeded", "polls", job.Polls, "elapsed_ms", p.since(start))
			return &Outcome{Job: *job, Payload: pr.Payload}, nil
		case constants.JobStatusFailed:
			msg := pr.ErrorMessage
			if msg == "" {
				msg = "analysis job " + pr.RawStatus
			}
			logger.Error("poller.job.failed", "code", pr.ErrorCode, "message", pr.ErrorMessage, "polls", job.Polls)
			return nil, p.fail(ctx, job, common.PermanentError(0, pr.ErrorCode, msg))
		default:
			job.Status = pr.Status
			p.notify(ctx, job)
			logger.Debug("poller.poll.running", "status", pr.RawStatus, "polls", job.Polls, "elapsed_ms", p.since(start))
		}
	}
}

// contextError turns expiry of the run's own deadline into a TimeoutError
// while keeping caller cancellation distinguishable.
func (p *Poller) contextError(parent, run context.Context, err error) error {
	if parent.Err() != nil {
		return common.FromContext(parent.Err())
	}
	if errors.Is(run.Err(), context.DeadlineExceeded) {
		return common.TimeoutError(fmt.Sprintf("analysis did not complete within %s", p.cfg.Timeout), err)
	}
	return err
}

func (p *Poller) fail(ctx context.Context, job *entity.AnalysisJob, err error) error {
	finished := p.now()
	job.Status = constants.JobStatusFailed
	job.FinishedAt = &finished
	kind := string(common.KindOf(err))
	if kind == "" {
		kind = "unknown"
	}
	msg := err.Error()
	job.ErrorKind = &kind
	job.ErrorMessage = &msg
	p.notify(context.WithoutCancel(ctx), job)
	return err
}

func (p *Poller) notify(ctx context.Context, job *entity.AnalysisJob) {
	if p.observer != nil {
		p.observer(ctx, *job)
	}
}

func (p *Poller) since(t time.Time) int64 {
	return p.now().Sub(t).Milliseconds()
}
