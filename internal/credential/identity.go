package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

const (
	imdsEndpoint   = "http://169.254.169.254/metadata/identity/oauth2/token"
	imdsAPIVersion = "2018-02-01"
	appServiceAPI  = "2019-08-01"
)

// identityTokenSource fetches tokens from the hosting platform's identity endpoint.
type identityTokenSource struct {
	client   *http.Client
	endpoint string
	header   string // App Service X-IDENTITY-HEADER; empty for IMDS
	resource string
	clientID string
}

type identityResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresOn   json.RawMessage `json:"expires_on"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

func (s *identityTokenSource) Token() (*oauth2.Token, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("identity endpoint: %w", err)
	}
	q := u.Query()
	q.Set("resource", s.resource)
	if s.clientID != "" {
		q.Set("client_id", s.clientID)
	}
	if s.header != "" {
		q.Set("api-version", appServiceAPI)
	} else {
		q.Set("api-version", imdsAPIVersion)
	}
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if s.header != "" {
		req.Header.Set("X-IDENTITY-HEADER", s.header)
	} else {
		req.Header.Set("Metadata", "true")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity endpoint status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	var ir identityResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, fmt.Errorf("decode identity token: %w", err)
	}
	if ir.AccessToken == "" {
		return nil, fmt.Errorf("identity endpoint returned no access_token")
	}
	tok := &oauth2.Token{AccessToken: ir.AccessToken, TokenType: ir.TokenType}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if sec, ok := parseSeconds(ir.ExpiresOn); ok {
		tok.Expiry = time.Unix(sec, 0)
	} else if sec, ok := parseSeconds(ir.ExpiresIn); ok {
		tok.Expiry = time.Now().Add(time.Duration(sec) * time.Second)
	}
	return tok, nil
}

// parseSeconds accepts the numeric or quoted-numeric forms identity endpoints use.
func parseSeconds(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f), true
	}
	return 0, false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
