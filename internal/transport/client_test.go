package transport

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/credential"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func testPolicy() Policy {
	return Policy{MaxAttempts: 4, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
}

func newTestClient(t *testing.T, srv *httptest.Server, rec *sleepRecorder) *Client {
	t.Helper()
	return NewClient(
		WithHTTPClient(srv.Client()),
		WithPolicy(testPolicy()),
		WithSleep(rec.sleep),
	)
}

func endpointFor(srv *httptest.Server) Endpoint {
	return Endpoint{BaseURL: srv.URL, ModelID: constants.ModelLayout, APIVersion: constants.DefaultAPIVersion}
}

// statusSequence answers with each status in turn, then with the last one.
func statusSequence(codes ...int) (http.HandlerFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(codes) {
			n = len(codes) - 1
		}
		code := codes[n]
		if code == http.StatusAccepted {
			w.Header().Set("Operation-Location", "http://"+r.Host+"/documentintelligence/documentModels/prebuilt-layout/analyzeResults/op-1")
		}
		w.WriteHeader(code)
		if code >= 400 {
			_, _ = w.Write([]byte(`{"error":{"code":"E` + http.StatusText(code) + `","message":"failure ` + http.StatusText(code) + `"}}`))
		}
	}, &calls
}

func TestPolicyDelay(t *testing.T) {
	p := testPolicy()
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 30*time.Second, p.Delay(10))
}

func TestPolicyDelayUncappedDoesNotOverflow(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 10}
	assert.Equal(t, time.Duration(math.MaxInt64), p.Delay(40))
	assert.Positive(t, p.Delay(200))
}

func TestPolicyJitterStaysInRange(t *testing.T) {
	p := testPolicy()
	p.Jitter = true
	assert.Equal(t, 2*time.Second, p.withJitter(4*time.Second, func() float64 { return 0 }))
	assert.Equal(t, 4*time.Second, p.withJitter(4*time.Second, func() float64 { return 1 }))
}

func TestBudget(t *testing.T) {
	b := NewBudget(2)
	assert.True(t, b.Take())
	assert.True(t, b.Take())
	assert.False(t, b.Take())
	assert.Equal(t, 2, b.Used())
	assert.Equal(t, 0, b.Remaining())
}

func TestSubmit_RetriesTransientWithBackoff(t *testing.T) {
	handler, calls := statusSequence(http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusAccepted)
	srv := httptest.NewServer(handler)
	defer srv.Close()
	rec := &sleepRecorder{}

	loc, err := newTestClient(t, srv, rec).Submit(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), []byte("%PDF"), constants.ContentTypePDF)
	require.NoError(t, err)
	assert.Contains(t, loc, "/analyzeResults/op-1")
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestSubmit_PermanentIsNotRetried(t *testing.T) {
	handler, calls := statusSequence(http.StatusBadRequest)
	srv := httptest.NewServer(handler)
	defer srv.Close()
	rec := &sleepRecorder{}

	_, err := newTestClient(t, srv, rec).Submit(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), []byte("x"), constants.ContentTypePDF)
	require.Error(t, err)

	var ae *common.AnalysisError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, common.KindPermanent, ae.Kind)
	assert.Equal(t, http.StatusBadRequest, ae.StatusCode)
	assert.Equal(t, "failure Bad Request", ae.Message)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.delays)
}

func TestSubmit_UnauthorizedIsAuthError(t *testing.T) {
	handler, calls := statusSequence(http.StatusUnauthorized)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	_, err := newTestClient(t, srv, &sleepRecorder{}).Submit(context.Background(), endpointFor(srv), credential.NewAPIKey("bad"), []byte("x"), constants.ContentTypePDF)
	assert.True(t, errors.Is(err, common.ErrAuth))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmit_ExhaustedBudgetReportsRetries(t *testing.T) {
	handler, calls := statusSequence(http.StatusTooManyRequests)
	srv := httptest.NewServer(handler)
	defer srv.Close()
	rec := &sleepRecorder{}

	_, err := newTestClient(t, srv, rec).Submit(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), []byte("x"), constants.ContentTypePDF)
	var ae *common.AnalysisError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, common.KindTransient, ae.Kind)
	assert.Equal(t, 3, ae.Retries)
	assert.Equal(t, http.StatusTooManyRequests, ae.StatusCode)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.delays)
}

func TestSubmit_HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Operation-Location", "http://"+r.Host+"/ops/1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	rec := &sleepRecorder{}

	_, err := newTestClient(t, srv, rec).Submit(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), []byte("x"), constants.ContentTypePDF)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, rec.delays)
}

func TestSubmit_SendsKeyContentTypeAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/documentintelligence/documentModels/prebuilt-layout:analyze", r.URL.Path)
		assert.Equal(t, constants.DefaultAPIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "formulas", r.URL.Query().Get("features"))
		assert.Equal(t, "k", r.Header.Get(credential.APIKeyHeader))
		assert.Equal(t, constants.ContentTypePDF, r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("x-ms-client-request-id"))
		w.Header().Set("Operation-Location", "http://"+r.Host+"/ops/1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ep := endpointFor(srv)
	ep.Features = []string{"formulas"}
	_, err := newTestClient(t, srv, &sleepRecorder{}).Submit(context.Background(), ep, credential.NewAPIKey("k"), []byte("x"), constants.ContentTypePDF)
	require.NoError(t, err)
}

func TestSubmit_MissingOperationLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, &sleepRecorder{}).Submit(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), []byte("x"), constants.ContentTypePDF)
	assert.Equal(t, common.KindPermanent, common.KindOf(err))
}

func TestSubmit_ForeignOperationLocationRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Operation-Location", "https://elsewhere.example/ops/1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, &sleepRecorder{}).Submit(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), []byte("x"), constants.ContentTypePDF)
	assert.Equal(t, common.KindPermanent, common.KindOf(err))
}

func TestSubmit_CanceledContextIsTimeout(t *testing.T) {
	handler, _ := statusSequence(http.StatusServiceUnavailable)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cl := NewClient(WithHTTPClient(srv.Client()), WithPolicy(testPolicy()), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	_, err := cl.Submit(ctx, endpointFor(srv), credential.NewAPIKey("k"), []byte("x"), constants.ContentTypePDF)
	assert.True(t, errors.Is(err, common.ErrTimeout))
}

func TestPoll_DecodesStates(t *testing.T) {
	bodies := []string{
		`{"status":"notStarted"}`,
		`{"status":"running","createdDateTime":"2024-01-01T00:00:00Z"}`,
		`{"status":"succeeded","analyzeResult":{"content":"hi"}}`,
	}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(bodies[calls.Add(1)-1]))
	}))
	defer srv.Close()

	cl := newTestClient(t, srv, &sleepRecorder{})
	ep := endpointFor(srv)
	want := []constants.JobStatus{constants.JobStatusNotStarted, constants.JobStatusRunning, constants.JobStatusSucceeded}
	for _, status := range want {
		pr, err := cl.Poll(context.Background(), ep, credential.NewAPIKey("k"), srv.URL+"/ops/1", NewBudget(0))
		require.NoError(t, err)
		assert.Equal(t, status, pr.Status)
		if status == constants.JobStatusSucceeded {
			assert.JSONEq(t, `{"content":"hi"}`, string(pr.Payload))
		}
	}
}

func TestPoll_FailedCarriesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed","error":{"code":"InvalidContent","message":"The file is corrupted."}}`))
	}))
	defer srv.Close()

	pr, err := newTestClient(t, srv, &sleepRecorder{}).Poll(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), srv.URL+"/ops/1", nil)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, pr.Status)
	assert.Equal(t, "InvalidContent", pr.ErrorCode)
	assert.Equal(t, "The file is corrupted.", pr.ErrorMessage)
}

func TestPoll_SharedBudget(t *testing.T) {
	handler, calls := statusSequence(http.StatusInternalServerError)
	srv := httptest.NewServer(handler)
	defer srv.Close()
	rec := &sleepRecorder{}
	cl := newTestClient(t, srv, rec)
	budget := NewBudget(2)

	_, err := cl.Poll(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), srv.URL+"/ops/1", budget)
	require.Error(t, err)
	assert.Equal(t, common.KindTransient, common.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())

	// the exhausted budget allows no retries on the next poll
	_, err = cl.Poll(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), srv.URL+"/ops/1", budget)
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestPoll_ExhaustedSharedBudgetReportsJobRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 3 {
			_, _ = w.Write([]byte(`{"status":"running"}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	rec := &sleepRecorder{}
	cl := newTestClient(t, srv, rec)
	budget := NewBudget(2)

	pr, err := cl.Poll(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), srv.URL+"/ops/1", budget)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusRunning, pr.Status)

	_, err = cl.Poll(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), srv.URL+"/ops/1", budget)
	var ae *common.AnalysisError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, common.KindTransient, ae.Kind)
	assert.Equal(t, 2, ae.Retries)
	assert.Contains(t, common.UserMessage(err), "2 retries")
	assert.Equal(t, int32(4), calls.Load())
}

func TestPoll_PermanentIsNotRetried(t *testing.T) {
	handler, calls := statusSequence(http.StatusBadRequest)
	srv := httptest.NewServer(handler)
	defer srv.Close()
	rec := &sleepRecorder{}

	_, err := newTestClient(t, srv, rec).Poll(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), srv.URL+"/ops/1", NewBudget(3))
	var ae *common.AnalysisError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, common.KindPermanent, ae.Kind)
	assert.Equal(t, http.StatusBadRequest, ae.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.delays)
}

func TestPoll_UnauthorizedIsAuthError(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			handler, calls := statusSequence(code)
			srv := httptest.NewServer(handler)
			defer srv.Close()
			rec := &sleepRecorder{}

			_, err := newTestClient(t, srv, rec).Poll(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), srv.URL+"/ops/1", NewBudget(3))
			assert.True(t, errors.Is(err, common.ErrAuth))
			assert.Equal(t, int32(1), calls.Load())
			assert.Empty(t, rec.delays)
		})
	}
}

func TestPoll_SucceededWithoutResultIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"succeeded"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, &sleepRecorder{}).Poll(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), srv.URL+"/ops/1", nil)
	var ae *common.AnalysisError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, common.KindMalformedPayload, ae.Kind)
	assert.Equal(t, "/analyzeResult", ae.Path)
}

func TestPoll_RejectsForeignLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, &sleepRecorder{}).Poll(context.Background(), endpointFor(srv), credential.NewAPIKey("k"), "https://other.example/ops/1", nil)
	assert.Equal(t, common.KindConfig, common.KindOf(err))
}

func TestEndpointFromConfigDefaults(t *testing.T) {
	ep := EndpointFromConfig(common.EndpointConfig{URL: "https://res.cognitiveservices.azure.com/"})
	assert.Equal(t, constants.ModelLayout, ep.ModelID)
	assert.Equal(t, "https://res.cognitiveservices.azure.com/documentintelligence/documentModels/prebuilt-layout:analyze?api-version="+constants.DefaultAPIVersion, ep.AnalyzeURL())
}
