package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docanalysis/internal/common"
)

func baseAuth() common.AuthConfig {
	return common.NewDefaultConfig().Auth
}

func TestResolve_APIKeyWins(t *testing.T) {
	cfg := baseAuth()
	cfg.APIKey = "  secret-key "
	cfg.IdentityEndpoint = "http://127.0.0.1:1/unused"

	cred, err := NewResolver().Resolve(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, KindAPIKey, cred.Kind())

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	require.NoError(t, cred.Apply(req))
	assert.Equal(t, "secret-key", req.Header.Get(APIKeyHeader))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.NotContains(t, cred.String(), "secret-key")
}

func TestResolve_NoSourceIsAuthError(t *testing.T) {
	cfg := baseAuth()
	cfg.ManagedIdentity = false

	_, err := NewResolver().Resolve(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrAuth))
}

func TestResolve_ManagedIdentityFromIMDS(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "true", r.Header.Get("Metadata"))
		assert.Equal(t, "https://cognitiveservices.azure.com", r.URL.Query().Get("resource"))
		assert.Equal(t, "user-assigned", r.URL.Query().Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"mi-token","token_type":"Bearer","expires_on":"4102444800"}`))
	}))
	defer srv.Close()

	cfg := baseAuth()
	cfg.IdentityEndpoint = srv.URL
	cfg.ClientID = "user-assigned"

	cred, err := NewResolver(WithHTTPClient(srv.Client())).Resolve(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, KindManagedIdentity, cred.Kind())
	assert.Equal(t, "imds", cred.Source())

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	require.NoError(t, cred.Apply(req))
	assert.Equal(t, "Bearer mi-token", req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get(APIKeyHeader))
	// token reused until expiry
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_AppServiceIdentityHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hdr", r.Header.Get("X-IDENTITY-HEADER"))
		assert.Equal(t, "2019-08-01", r.URL.Query().Get("api-version"))
		_, _ = w.Write([]byte(`{"access_token":"app-token","expires_on":4102444800}`))
	}))
	defer srv.Close()

	cfg := baseAuth()
	cfg.IdentityEndpoint = srv.URL
	cfg.IdentityHeader = "hdr"

	cred, err := NewResolver(WithHTTPClient(srv.Client())).Resolve(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "app_service", cred.Source())
}

func TestResolve_IdentityEndpointFailureIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_request","error_description":"Identity not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := baseAuth()
	cfg.IdentityEndpoint = srv.URL

	_, err := NewResolver(WithHTTPClient(srv.Client())).Resolve(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, common.KindAuth, common.KindOf(err))
	assert.Contains(t, err.Error(), "Identity not found")
}

func TestResolve_ServicePrincipal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tenant-1/oauth2/v2.0/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "app-id", r.Form.Get("client_id"))
		assert.Equal(t, "app-secret", r.Form.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"sp-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	cfg := baseAuth()
	cfg.TenantID = "tenant-1"
	cfg.ClientID = "app-id"
	cfg.ClientSecret = "app-secret"
	cfg.AuthorityHost = srv.URL

	cred, err := NewResolver(WithHTTPClient(srv.Client())).Resolve(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "service_principal", cred.Source())

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	require.NoError(t, cred.Apply(req))
	assert.Equal(t, "Bearer sp-token", req.Header.Get("Authorization"))
}

func TestCache_ReusesUntilConfigChanges(t *testing.T) {
	var resolves atomic.Int32
	cache := NewCache(func(ctx context.Context, cfg common.AuthConfig) (*Credential, error) {
		resolves.Add(1)
		return NewAPIKey(cfg.APIKey), nil
	})

	cfg := baseAuth()
	cfg.APIKey = "k1"

	first, err := cache.Get(context.Background(), cfg)
	require.NoError(t, err)
	again, err := cache.Get(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, int32(1), resolves.Load())

	cfg.APIKey = "k2"
	swapped, err := cache.Get(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotSame(t, first, swapped)
	assert.Equal(t, int32(2), resolves.Load())

	// the old credential is untouched by the swap
	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	require.NoError(t, first.Apply(req))
	assert.Equal(t, "k1", req.Header.Get(APIKeyHeader))

	cache.Invalidate()
	_, err = cache.Get(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(3), resolves.Load())
}

func TestCache_FailureIsNotCached(t *testing.T) {
	var resolves atomic.Int32
	cache := NewCache(func(ctx context.Context, cfg common.AuthConfig) (*Credential, error) {
		if resolves.Add(1) == 1 {
			return nil, common.AuthError("boom", nil)
		}
		return NewAPIKey("ok"), nil
	})
	cfg := baseAuth()

	_, err := cache.Get(context.Background(), cfg)
	require.Error(t, err)
	cred, err := cache.Get(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, KindAPIKey, cred.Kind())
}

func TestCache_ConcurrentReaders(t *testing.T) {
	cache := NewCache(func(ctx context.Context, cfg common.AuthConfig) (*Credential, error) {
		return NewAPIKey(cfg.APIKey), nil
	})
	keys := []string{"a", "b"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg := baseAuth()
			cfg.APIKey = keys[i%2]
			cred, err := cache.Get(context.Background(), cfg)
			assert.NoError(t, err)
			assert.NotNil(t, cred)
		}(i)
	}
	wg.Wait()
}

func TestCache_CanceledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var resolves atomic.Int32
	cache := NewCache(func(ctx context.Context, cfg common.AuthConfig) (*Credential, error) {
		if resolves.Add(1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewAPIKey(cfg.APIKey), nil
	})
	cfg := baseAuth()
	cfg.APIKey = "k"

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(firstCtx, cfg)
		firstErr <- err
	}()
	<-started

	second := make(chan *Credential, 1)
	go func() {
		cred, err := cache.Get(context.Background(), cfg)
		assert.NoError(t, err)
		second <- cred
	}()

	cancel()
	err := <-firstErr
	assert.True(t, errors.Is(err, common.ErrTimeout) || errors.Is(err, context.Canceled), "got %v", err)

	close(release)
	cred := <-second
	require.NotNil(t, cred)
	assert.Equal(t, KindAPIKey, cred.Kind())
	assert.Equal(t, int32(1), resolves.Load())
}
