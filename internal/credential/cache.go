package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/joseph-ayodele/docanalysis/internal/common"
)

// ResolveFunc resolves configuration into a credential.
type ResolveFunc func(ctx context.Context, cfg common.AuthConfig) (*Credential, error)

// Cache holds the process-wide credential. Reads are lock-free; a config
// change resolves a new credential and swaps it in whole.
type Cache struct {
	resolve ResolveFunc
	current atomic.Pointer[cacheEntry]
	group   singleflight.Group
}

type cacheEntry struct {
	fingerprint string
	cred        *Credential
}

func NewCache(resolve ResolveFunc) *Cache {
	if resolve == nil {
		resolve = NewResolver().Resolve
	}
	return &Cache{resolve: resolve}
}

// Get returns the cached credential for cfg, resolving it if cfg differs from
// the cached one. Concurrent misses for the same cfg share one resolution.
func (c *Cache) Get(ctx context.Context, cfg common.AuthConfig) (*Credential, error) {
	fp := Fingerprint(cfg)
	if e := c.current.Load(); e != nil && e.fingerprint == fp {
		return e.cred, nil
	}
	// The shared resolution outlives any one caller; each caller still
	// stops waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fp, func() (interface{}, error) {
		if e := c.current.Load(); e != nil && e.fingerprint == fp {
			return e.cred, nil
		}
		cred, err := c.resolve(shared, cfg)
		if err != nil {
			return nil, err
		}
		c.current.Store(&cacheEntry{fingerprint: fp, cred: cred})
		return cred, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Credential), nil
	case <-ctx.Done():
		return nil, common.FromContext(ctx.Err())
	}
}

// Invalidate drops the cached credential; the next Get resolves again.
func (c *Cache) Invalidate() {
	c.current.Store(nil)
}

// Fingerprint identifies an auth configuration without retaining its secrets.
func Fingerprint(cfg common.AuthConfig) string {
	h := sha256.New()
	for _, part := range []string{
		cfg.APIKey,
		strconv.FormatBool(cfg.ManagedIdentity),
		cfg.ClientID,
		cfg.TenantID,
		cfg.ClientSecret,
		cfg.IdentityEndpoint,
		cfg.IdentityHeader,
		cfg.AuthorityHost,
		cfg.Scope,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
