package credential

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/joseph-ayodele/docanalysis/internal/common"
)

// Kind is the authentication strategy a Credential uses.
type Kind int

const (
	KindAPIKey Kind = iota + 1
	KindManagedIdentity
)

func (k Kind) String() string {
	switch k {
	case KindAPIKey:
		return "api_key"
	case KindManagedIdentity:
		return "managed_identity"
	}
	return "unknown"
}

// APIKeyHeader carries the static key on every request.
const APIKeyHeader = "Ocp-Apim-Subscription-Key"

// Credential is an immutable, resolved authentication capability.
type Credential struct {
	kind   Kind
	apiKey string
	tokens oauth2.TokenSource
	source string
}

func (c *Credential) Kind() Kind { return c.kind }

// Source names where the credential came from: api_key, service_principal, app_service or imds.
func (c *Credential) Source() string { return c.source }

func (c *Credential) String() string {
	return fmt.Sprintf("credential(%s/%s)", c.kind, c.source)
}

// Apply attaches the credential to an outbound request.
func (c *Credential) Apply(req *http.Request) error {
	switch c.kind {
	case KindAPIKey:
		req.Header.Set(APIKeyHeader, c.apiKey)
		return nil
	case KindManagedIdentity:
		tok, err := c.tokens.Token()
		if err != nil {
			return common.AuthError("acquire managed identity token", err)
		}
		tok.SetAuthHeader(req)
		return nil
	}
	return common.AuthError("credential is not resolved", nil)
}

// NewAPIKey builds a static key credential.
func NewAPIKey(key string) *Credential {
	return &Credential{kind: KindAPIKey, apiKey: key, source: "api_key"}
}

// NewTokenCredential wraps any token source as a managed identity credential.
func NewTokenCredential(ts oauth2.TokenSource, source string) *Credential {
	return &Credential{kind: KindManagedIdentity, tokens: oauth2.ReuseTokenSource(nil, ts), source: source}
}

// Resolver turns configuration into a Credential.
type Resolver struct {
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Resolver)

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		if c != nil {
			r.httpClient = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve picks the static key when one is configured, otherwise the ambient identity.
// Failures are AuthErrors and are never retried.
func (r *Resolver) Resolve(ctx context.Context, cfg common.AuthConfig) (*Credential, error) {
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		r.logger.Info("credential.resolve.ok", "kind", KindAPIKey.String())
		return NewAPIKey(key), nil
	}
	if !cfg.ManagedIdentity {
		r.logger.Error("credential.resolve.none", "hint", "set an API key or enable managed identity")
		return nil, common.AuthError("no API key configured and managed identity is disabled", nil)
	}

	ts, source := r.identitySource(cfg)
	cred := NewTokenCredential(ts, source)

	// Fetch once so an unreachable identity endpoint fails here, not mid-analysis.
	start := time.Now()
	if _, err := cred.tokens.Token(); err != nil {
		r.logger.Error("credential.resolve.failed", "source", source, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, common.AuthError("resolve managed identity ("+source+")", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, common.AuthError("resolve managed identity ("+source+")", err)
	}
	r.logger.Info("credential.resolve.ok", "kind", KindManagedIdentity.String(), "source", source,
		"elapsed_ms", time.Since(start).Milliseconds())
	return cred, nil
}

// identitySource follows the platform chain: service principal from the
// environment, then the App Service identity endpoint, then IMDS.
func (r *Resolver) identitySource(cfg common.AuthConfig) (oauth2.TokenSource, string) {
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, r.httpClient)
	if cfg.TenantID != "" && cfg.ClientID != "" && cfg.ClientSecret != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     strings.TrimRight(cfg.AuthorityHost, "/") + "/" + cfg.TenantID + "/oauth2/v2.0/token",
			Scopes:       []string{cfg.Scope},
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		return cc.TokenSource(tokenCtx), "service_principal"
	}
	src := &identityTokenSource{
		client:   r.httpClient,
		endpoint: cfg.IdentityEndpoint,
		header:   cfg.IdentityHeader,
		resource: strings.TrimSuffix(cfg.Scope, "/.default"),
		clientID: cfg.ClientID,
	}
	if src.header != "" && src.endpoint != "" {
		return src, "app_service"
	}
	if src.endpoint == "" {
		src.endpoint = imdsEndpoint
	}
	return src, "imds"
}
