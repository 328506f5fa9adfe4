package jwks_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-gateway/internal/jwks"
)

type keyServer struct {
	*httptest.Server

	mu     sync.Mutex
	keys   jose.JSONWebKeySet
	status int
	calls  atomic.Int32
}

func startKeyServer(t *testing.T, kids ...string) *keyServer {
	t.Helper()

	ks := &keyServer{status: http.StatusOK}
	ks.setKeys(t, kids...)
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.calls.Add(1)
		if r.URL.Path != "/.well-known/jwks.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		ks.mu.Lock()
		defer ks.mu.Unlock()
		if ks.status != http.StatusOK {
			w.WriteHeader(ks.status)
			return
		}
		_ = json.NewEncoder(w).Encode(ks.keys)
	}))
	t.Cleanup(ks.Close)

	return ks
}

func (ks *keyServer) setKeys(t *testing.T, kids ...string) {
	t.Helper()

	set := jose.JSONWebKeySet{}
	for _, kid := range kids {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       &key.PublicKey,
			KeyID:     kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		})
	}

	ks.mu.Lock()
	ks.keys = set
	ks.mu.Unlock()
}

func (ks *keyServer) setStatus(status int) {
	ks.mu.Lock()
	ks.status = status
	ks.mu.Unlock()
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestURLFromIssuer(t *testing.T) {
	assert.Equal(t, "https://idp.example.com/pool/.well-known/jwks.json", jwks.URLFromIssuer("https://idp.example.com/pool"))
	assert.Equal(t, "https://idp.example.com/pool/.well-known/jwks.json", jwks.URLFromIssuer("https://idp.example.com/pool/"))
}

func TestCache_GetUsesTTL(t *testing.T) {
	ks := startKeyServer(t, "kid-1")
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := jwks.NewCache(jwks.URLFromIssuer(ks.URL), jwks.WithClock(clk.Now), jwks.WithTTL(time.Hour))

	keys, err := c.Get(t.Context())
	require.NoError(t, err)
	assert.Len(t, keys.Keys, 1)
	assert.Equal(t, int32(1), ks.calls.Load())

	clk.Advance(59 * time.Minute)
	_, err = c.Get(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(1), ks.calls.Load(), "cached set must be served within the TTL")

	clk.Advance(time.Minute)
	_, err = c.Get(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(2), ks.calls.Load(), "expired set must be fetched again")
}

func TestCache_KeyRefreshesOnceOnMiss(t *testing.T) {
	ks := startKeyServer(t, "kid-1")
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := jwks.NewCache(jwks.URLFromIssuer(ks.URL), jwks.WithClock(clk.Now))

	key, err := c.Key(t.Context(), "kid-1")
	require.NoError(t, err)
	assert.Equal(t, "kid-1", key.KeyID)
	assert.Equal(t, int32(1), ks.calls.Load())

	// rotation at the IdP
	ks.setKeys(t, "kid-1", "kid-2")
	key, err = c.Key(t.Context(), "kid-2")
	require.NoError(t, err)
	assert.Equal(t, "kid-2", key.KeyID)
	assert.Equal(t, int32(2), ks.calls.Load())

	_, err = c.Key(t.Context(), "kid-unknown")
	require.ErrorIs(t, err, jwks.ErrKeyNotFound)
	assert.Equal(t, int32(3), ks.calls.Load(), "a miss must refresh exactly once")
}

func TestCache_FetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "Server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "Not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		{
			name: "Invalid body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"keys": [`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := jwks.NewCache(srv.URL)
			_, err := c.Get(t.Context())
			require.Error(t, err)

			_, err = c.Key(t.Context(), "kid-1")
			require.Error(t, err)
			assert.NotErrorIs(t, err, jwks.ErrKeyNotFound)
		})
	}
}

func TestCache_FailedRefreshKeepsPreviousSet(t *testing.T) {
	ks := startKeyServer(t, "kid-1")
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := jwks.NewCache(jwks.URLFromIssuer(ks.URL), jwks.WithClock(clk.Now))

	_, err := c.Get(t.Context())
	require.NoError(t, err)

	ks.setStatus(http.StatusServiceUnavailable)
	_, err = c.Refresh(t.Context())
	require.Error(t, err)

	key, err := c.Key(t.Context(), "kid-1")
	require.NoError(t, err)
	assert.Equal(t, "kid-1", key.KeyID)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	ks := startKeyServer(t, "kid-1")
	c := jwks.NewCache(jwks.URLFromIssuer(ks.URL))

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			key, err := c.Key(t.Context(), "kid-1")
			assert.NoError(t, err)
			assert.Equal(t, "kid-1", key.KeyID)
		})
	}
	wg.Wait()

	assert.GreaterOrEqual(t, ks.calls.Load(), int32(1))
}

func TestCache_HonoursCancellation(t *testing.T) {
	ks := startKeyServer(t, "kid-1")
	c := jwks.NewCache(jwks.URLFromIssuer(ks.URL))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := c.Get(ctx)
	require.Error(t, err)
}
