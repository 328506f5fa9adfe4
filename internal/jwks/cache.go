package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	slogctx "github.com/veqryn/slog-context"
)

const (
	DefaultTTL = time.Hour

	wellKnownPath = "/.well-known/jwks.json"

	// maxBodySize bounds the key set document.
	maxBodySize = 1 << 20
)

var ErrKeyNotFound = errors.New("signing key not found in key set")

// URLFromIssuer returns the well-known key set location of an issuer.
func URLFromIssuer(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + wellKnownPath
}

// Cache holds the IdP signing keys for the lifetime of the process.
// Refreshes are not coalesced; concurrent callers may fetch in parallel
// and the last response wins.
type Cache struct {
	url    string
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	keys      jose.JSONWebKeySet
	expiresAt time.Time
}

type Option func(*Cache)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCache(url string, opts ...Option) *Cache {
	c := &Cache{
		url:    url,
		client: http.DefaultClient,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the cached key set, fetching it when the TTL has elapsed.
func (c *Cache) Get(ctx context.Context) (jose.JSONWebKeySet, error) {
	c.mu.RLock()
	keys, expiresAt := c.keys, c.expiresAt
	c.mu.RUnlock()

	if c.now().Before(expiresAt) {
		return keys, nil
	}

	return c.Refresh(ctx)
}

// Refresh fetches the key set unconditionally and restarts the TTL.
func (c *Cache) Refresh(ctx context.Context) (jose.JSONWebKeySet, error) {
	keys, err := c.fetch(ctx)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}

	c.mu.Lock()
	c.keys = keys
	c.expiresAt = c.now().Add(c.ttl)
	c.mu.Unlock()

	slogctx.Debug(ctx, "Refreshed signing key set", "keys", len(keys.Keys))

	return keys, nil
}

// Key returns the key with the given id. An unknown id triggers one
// refresh so that rotated keys are picked up before the TTL elapses.
func (c *Cache) Key(ctx context.Context, kid string) (jose.JSONWebKey, error) {
	keys, err := c.Get(ctx)
	if err != nil {
		return jose.JSONWebKey{}, err
	}
	if found := keys.Key(kid); len(found) > 0 {
		return found[0], nil
	}

	keys, err = c.Refresh(ctx)
	if err != nil {
		return jose.JSONWebKey{}, err
	}
	if found := keys.Key(kid); len(found) > 0 {
		return found[0], nil
	}

	return jose.JSONWebKey{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

func (c *Cache) fetch(ctx context.Context) (jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("creating key set request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetching key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetching key set: unexpected status %d", resp.StatusCode)
	}

	var keys jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&keys); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("decoding key set: %w", err)
	}

	return keys, nil
}
