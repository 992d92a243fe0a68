package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/credential"
)

const (
	operationLocationHeader = "Operation-Location"
	clientRequestIDHeader   = "x-ms-client-request-id"
	maxErrorBody            = 4 << 10
)

// Endpoint addresses one Document Intelligence resource and model.
type Endpoint struct {
	BaseURL    string
	ModelID    string
	APIVersion string
	Features   []string
}

// EndpointFromConfig fills model and version defaults.
func EndpointFromConfig(c common.EndpointConfig) Endpoint {
	ep := Endpoint{
		BaseURL:    c.URL,
		ModelID:    c.ModelID,
		APIVersion: c.APIVersion,
		Features:   c.Features,
	}
	if ep.ModelID == "" {
		ep.ModelID = constants.ModelLayout
	}
	if ep.APIVersion == "" {
		ep.APIVersion = constants.DefaultAPIVersion
	}
	return ep
}

// AnalyzeURL is the submit URL for this endpoint.
func (e Endpoint) AnalyzeURL() string {
	q := url.Values{}
	q.Set("api-version", e.APIVersion)
	if len(e.Features) > 0 {
		q.Set("features", strings.Join(e.Features, ","))
	}
	return strings.TrimRight(e.BaseURL, "/") +
		"/documentintelligence/documentModels/" + url.PathEscape(e.ModelID) + ":analyze?" + q.Encode()
}

// PollResult is one observation of a submitted job.
type PollResult struct {
	Status       constants.JobStatus
	RawStatus    string
	Payload      json.RawMessage // analyzeResult, set once succeeded
	ErrorCode    string
	ErrorMessage string
}

// Client performs single submit and poll exchanges, retrying transient failures.
type Client struct {
	httpClient *http.Client
	policy     Policy
	limiter    *rate.Limiter
	sleep      SleepFunc
	rand       func() float64
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(cl *Client) { cl.policy = p }
}

// WithRateLimit paces outbound requests; rps <= 0 disables pacing.
func WithRateLimit(rps float64) Option {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(cl *Client) {
		if fn != nil {
			cl.sleep = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		policy:     PolicyFromConfig(common.NewDefaultConfig().Retry),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		sleep:      Sleep,
		rand:       defaultRand,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Policy() Policy { return c.policy }

// Submit uploads the document and returns the operation location of the new job.
// Transient failures are retried up to Policy.MaxAttempts attempts in total.
func (c *Client) Submit(ctx context.Context, ep Endpoint, cred *credential.Credential, file []byte, contentType string) (string, error) {
	target := ep.AnalyzeURL()
	budget := NewBudget(c.policy.MaxAttempts - 1)

	resp, err := c.execute(ctx, "submit", budget, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(file))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, cred)
	if err != nil {
		return "", err
	}

	loc := strings.TrimSpace(resp.header.Get(operationLocationHeader))
	if loc == "" {
		return "", common.PermanentError(resp.status, "", "submit response has no Operation-Location header")
	}
	if !sameHost(ep.BaseURL, loc) {
		return "", common.PermanentError(resp.status, "", "Operation-Location points outside the configured endpoint")
	}
	return loc, nil
}

// Poll fetches the job's current state. Retries of transient failures draw on
// budget, which the caller shares across every poll of one job.
func (c *Client) Poll(ctx context.Context, ep Endpoint, cred *credential.Credential, operationLocation string, budget *Budget) (*PollResult, error) {
	if !sameHost(ep.BaseURL, operationLocation) {
		return nil, common.ConfigError("operation location %q does not belong to endpoint %q", operationLocation, ep.BaseURL)
	}
	if budget == nil {
		budget = NewBudget(0)
	}
	resp, err := c.execute(ctx, "poll", budget, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, operationLocation, nil)
	}, cred)
	if err != nil {
		return nil, err
	}
	return decodePoll(resp.body)
}

type operationBody struct {
	Status        string          `json:"status"`
	AnalyzeResult json.RawMessage `json:"analyzeResult"`
	Error         *serviceError   `json:"error"`
}

type serviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodePoll(body []byte) (*PollResult, error) {
	var ob operationBody
	if err := json.Unmarshal(body, &ob); err != nil {
		return nil, common.MalformedPayloadError("/", "decode operation status: "+err.Error())
	}
	if ob.Status == "" {
		return nil, common.MalformedPayloadError("/status", "missing operation status")
	}
	pr := &PollResult{Status: constants.ParseServiceStatus(ob.Status), RawStatus: ob.Status}
	switch pr.Status {
	case constants.JobStatusSucceeded:
		if len(ob.AnalyzeResult) == 0 || string(ob.AnalyzeResult) == "null" {
			return nil, common.MalformedPayloadError("/analyzeResult", "succeeded operation has no analyzeResult")
		}
		pr.Payload = ob.AnalyzeResult
	case constants.JobStatusFailed:
		if ob.Error != nil {
			pr.ErrorCode = ob.Error.Code
			pr.ErrorMessage = ob.Error.Message
		}
	}
	return pr, nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// execute runs one logical request, retrying transient failures while budget allows.
func (c *Client) execute(ctx context.Context, op string, budget *Budget, build func(context.Context) (*http.Request, error), cred *credential.Credential) (*response, error) {
	logger := common.LoggerFromContext(ctx, c.logger)
	retries := 0
	for {
		resp, cause := c.attempt(ctx, op, build, cred, logger)
		if cause == nil && resp.status/100 == 2 {
			if retries > 0 {
				logger.Info("transport."+op+".recovered", "retries", retries)
			}
			return resp, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, common.FromContext(err)
		}

		var ae *common.AnalysisError
		if errors.As(cause, &ae) {
			return nil, ae
		}
		status := 0
		if resp != nil {
			status = resp.status
			if !isTransientStatus(status) {
				return nil, classify(resp)
			}
			cause = serviceFailure(resp)
		}

		if !budget.Take() {
			// Report the whole budget; polls of one job share it.
			logger.Error("transport."+op+".exhausted", "status", status, "retries", budget.Used(), "error", cause)
			return nil, common.TransientError(status, budget.Used(), cause)
		}
		retries++

		delay := c.policy.withJitter(c.policy.Delay(retries), c.rand)
		if resp != nil {
			if ra := retryAfter(resp.header, c.now()); ra > delay {
				delay = ra
				if c.policy.MaxDelay > 0 && delay > c.policy.MaxDelay {
					delay = c.policy.MaxDelay
				}
			}
		}
		logger.Warn("transport."+op+".retry", "status", status, "retry", retries, "delay_ms", delay.Milliseconds(), "error", cause)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, common.FromContext(err)
		}
	}
}

// attempt sends one HTTP request. It returns an *AnalysisError for failures
// that must not be retried, a plain error for connection failures, or the response.
func (c *Client) attempt(ctx context.Context, op string, build func(context.Context) (*http.Request, error), cred *credential.Credential, logger *slog.Logger) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, common.FromContext(ctx.Err())
		}
		return nil, common.TimeoutError("rate limit wait exceeds deadline", err)
	}

	req, err := build(ctx)
	if err != nil {
		return nil, common.ConfigError("build %s request: %v", op, err)
	}
	if cred == nil {
		return nil, common.AuthError("no credential", nil)
	}
	if err := cred.Apply(req); err != nil {
		return nil, err
	}
	reqID := uuid.New().String()
	req.Header.Set(clientRequestIDHeader, reqID)

	start := time.Now()
	logger.Debug("transport.http.request", "req_id", reqID, "op", op, "method", req.Method, "url", redactURL(req.URL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("transport.http.send_error", "req_id", reqID, "op", op, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logger.Warn("transport.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn("transport.http.read_error", "req_id", reqID, "op", op, "error", err)
		return nil, fmt.Errorf("%s read body: %w", op, err)
	}
	logger.Debug("transport.http.response",
		"req_id", reqID,
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &response{status: resp.StatusCode, header: resp.Header, body: raw}, nil
}

// classify maps a non-retryable status to its error kind.
func classify(resp *response) error {
	se := parseServiceError(resp.body)
	switch resp.status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return common.AuthError(fmt.Sprintf("service rejected credential (status %d): %s", resp.status, se.Message), nil)
	}
	msg := se.Message
	if msg == "" {
		msg = http.StatusText(resp.status)
	}
	return common.PermanentError(resp.status, se.Code, msg)
}

func serviceFailure(resp *response) error {
	se := parseServiceError(resp.body)
	if se.Message == "" {
		return fmt.Errorf("status %d %s", resp.status, http.StatusText(resp.status))
	}
	return fmt.Errorf("status %d %s: %s", resp.status, se.Code, se.Message)
}

func parseServiceError(body []byte) serviceError {
	var wrapper struct {
		Error serviceError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && (wrapper.Error.Code != "" || wrapper.Error.Message != "") {
		return wrapper.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return serviceError{Message: s}
}

func sameHost(base, target string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	t, err := url.Parse(target)
	if err != nil || !t.IsAbs() {
		return false
	}
	return strings.EqualFold(b.Host, t.Host) && strings.EqualFold(b.Scheme, t.Scheme)
}

func redactURL(u *url.URL) string {
	cp := *u
	cp.RawQuery = ""
	return cp.String()
}
