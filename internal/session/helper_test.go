package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-gateway/internal/config"
	"github.com/openkcm/auth-gateway/internal/idp"
	"github.com/openkcm/auth-gateway/internal/idptest"
	"github.com/openkcm/auth-gateway/internal/jwks"
	"github.com/openkcm/auth-gateway/internal/profile"
	profilemock "github.com/openkcm/auth-gateway/internal/profile/mock"
	"github.com/openkcm/auth-gateway/internal/session"
	"github.com/openkcm/auth-gateway/internal/state"
	"github.com/openkcm/auth-gateway/internal/token"
)

const (
	siteURL     = "https://learn.example.com"
	redirectURI = "https://api.example.com/auth/callback"
	stateSecret = "0123456789abcdef0123456789abcdef" // NOSONAR
)

type fixture struct {
	idp     *idptest.Server
	client  *idp.Client
	codec   *state.Codec
	repo    *profilemock.Repository
	manager *session.Manager
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	repo     *profilemock.Repository
	provider func(*idp.Client) session.IdentityProvider
	opts     []session.Option
}

func withRepository(repo *profilemock.Repository) fixtureOption {
	return func(c *fixtureConfig) { c.repo = repo }
}

func withProvider(wrap func(*idp.Client) session.IdentityProvider) fixtureOption {
	return func(c *fixtureConfig) { c.provider = wrap }
}

func withManagerOptions(opts ...session.Option) fixtureOption {
	return func(c *fixtureConfig) { c.opts = append(c.opts, opts...) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	fc := &fixtureConfig{
		repo:     profilemock.NewInMemRepository(),
		provider: func(c *idp.Client) session.IdentityProvider { return c },
	}
	for _, opt := range opts {
		opt(fc)
	}

	srv := idptest.NewServer(t)

	client, err := idp.NewClient(idp.Config{
		Domain:      srv.URL,
		ClientID:    idptest.ClientID,
		RedirectURI: redirectURI,
	}, srv.Client())
	require.NoError(t, err)

	codec, err := state.NewCodec([]byte(stateSecret))
	require.NoError(t, err)

	cache := jwks.NewCache(jwks.URLFromIssuer(srv.Issuer()), jwks.WithHTTPClient(srv.Client()))
	verifier := token.NewVerifier(cache, srv.Issuer())

	m, err := session.NewManager(session.Config{
		SiteURL:       siteURL,
		ClientID:      idptest.ClientID,
		AccessCookie:  config.DefaultAccessTokenCookie(),
		RefreshCookie: config.DefaultRefreshTokenCookie(),
	}, fc.provider(client), verifier, codec, profile.NewService(fc.repo), fc.opts...)
	require.NoError(t, err)

	return &fixture{
		idp:     srv,
		client:  client,
		codec:   codec,
		repo:    fc.repo,
		manager: m,
	}
}

// stubProvider overrides selected calls of the real client.
type stubProvider struct {
	*idp.Client

	exchange  func(ctx context.Context, code, verifier string) (idp.TokenSet, error)
	logoutErr error
}

func (s stubProvider) ExchangeCode(ctx context.Context, code, verifier string) (idp.TokenSet, error) {
	if s.exchange != nil {
		return s.exchange(ctx, code, verifier)
	}

	return s.Client.ExchangeCode(ctx, code, verifier)
}

func (s stubProvider) LogoutURL(logoutRedirect string) (string, error) {
	if s.logoutErr != nil {
		return "", s.logoutErr
	}

	return s.Client.LogoutURL(logoutRedirect)
}

type syncerFunc func(ctx context.Context, email string) (string, error)

func (f syncerFunc) Sync(ctx context.Context, email string) (string, error) {
	return f(ctx, email)
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}

	return nil
}

func StartAuditServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"success": true}`))
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}
