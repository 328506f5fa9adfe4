package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-gateway/internal/config"
	"github.com/openkcm/auth-gateway/internal/contactsync"
	"github.com/openkcm/auth-gateway/internal/idp"
	"github.com/openkcm/auth-gateway/internal/pkce"
	"github.com/openkcm/auth-gateway/internal/profile"
	"github.com/openkcm/auth-gateway/internal/serviceerr"
	"github.com/openkcm/auth-gateway/internal/state"
	"github.com/openkcm/auth-gateway/internal/token"
)

// IdentityProvider is the part of the IdP client the manager drives.
type IdentityProvider interface {
	AuthorizeURL(state, challenge string) string
	SignupURL(state, challenge string) string
	LogoutURL(logoutRedirect string) (string, error)
	ExchangeCode(ctx context.Context, code, verifier string) (idp.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (idp.TokenSet, error)
}

type TokenVerifier interface {
	Verify(ctx context.Context, raw string, exp token.Expectation) (token.Claims, error)
}

// StateCodec carries the redirect target and PKCE verifier through the
// IdP round trip.
type StateCodec interface {
	Encode(redirectURL, codeVerifier string) (string, error)
	Decode(token string) (state.Payload, error)
}

type Config struct {
	// SiteURL is the public origin every redirect lands on.
	SiteURL string
	// Landing is the site path used when no redirect target survives
	// sanitization and for error and logout redirects.
	Landing       string
	ClientID      string
	AccessCookie  config.CookieTemplate
	RefreshCookie config.CookieTemplate
}

type Manager struct {
	provider IdentityProvider
	verifier TokenVerifier
	states   StateCodec
	profiles *profile.Service
	contacts contactsync.Syncer
	audit    *otlpaudit.AuditLogger
	pkce     pkce.Source

	siteURL  string
	landing  string
	clientID string

	accessCookieTemplate  config.CookieTemplate
	refreshCookieTemplate config.CookieTemplate
}

type Option func(*Manager)

// WithContactSyncer enables best-effort CRM sync after a login.
func WithContactSyncer(s contactsync.Syncer) Option {
	return func(m *Manager) {
		if s != nil {
			m.contacts = s
		}
	}
}

func WithAuditLogger(l *otlpaudit.AuditLogger) Option {
	return func(m *Manager) {
		m.audit = l
	}
}

func NewManager(
	cfg Config,
	provider IdentityProvider,
	verifier TokenVerifier,
	states StateCodec,
	profiles *profile.Service,
	opts ...Option,
) (*Manager, error) {
	if cfg.SiteURL == "" {
		return nil, errors.New("site url is empty")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is empty")
	}
	if cfg.AccessCookie.Name == "" || cfg.RefreshCookie.Name == "" {
		return nil, errors.New("token cookie names must be set")
	}

	landing := cfg.Landing
	if landing == "" {
		landing = DefaultRedirect
	}

	m := &Manager{
		provider:              provider,
		verifier:              verifier,
		states:                states,
		profiles:              profiles,
		contacts:              contactsync.Noop{},
		siteURL:               strings.TrimSuffix(cfg.SiteURL, "/"),
		landing:               landing,
		clientID:              cfg.ClientID,
		accessCookieTemplate:  cfg.AccessCookie,
		refreshCookieTemplate: cfg.RefreshCookie,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Login returns the hosted sign-in URL for a new authorization code flow.
// The redirect target and PKCE verifier travel in the signed state.
func (m *Manager) Login(ctx context.Context, redirectURL string) (string, error) {
	stateToken, challenge, err := m.begin(ctx, redirectURL)
	if err != nil {
		return "", err
	}

	return m.provider.AuthorizeURL(stateToken, challenge), nil
}

// Signup is Login for the hosted sign-up page.
func (m *Manager) Signup(ctx context.Context, redirectURL string) (string, error) {
	stateToken, challenge, err := m.begin(ctx, redirectURL)
	if err != nil {
		return "", err
	}

	return m.provider.SignupURL(stateToken, challenge), nil
}

func (m *Manager) begin(ctx context.Context, redirectURL string) (string, string, error) {
	target := SanitizeRedirectURL(redirectURL, m.landing)
	if redirectURL != "" && target != redirectURL && target != "/"+redirectURL {
		slogctx.Warn(ctx, "Blocked redirect target", "redirect_url", redirectURL)
	}

	p := m.pkce.PKCE()
	stateToken, err := m.states.Encode(target, p.Verifier)
	if err != nil {
		return "", "", fmt.Errorf("encoding state: %w", err)
	}

	return stateToken, p.Challenge, nil
}

type CallbackRequest struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Redirect is an outcome that sends the browser elsewhere, optionally
// setting cookies on the way.
type Redirect struct {
	Location string
	Cookies  []*http.Cookie
}

// Callback completes the authorization code flow. IdP errors become a
// redirect carrying auth_error; request and verification errors are
// returned as service errors and never set cookies.
func (m *Manager) Callback(ctx context.Context, req CallbackRequest) (Redirect, error) {
	metadata, err := otlpaudit.NewEventMetadata("auth gateway", m.clientID, uuid.NewString())
	if err != nil {
		return Redirect{}, fmt.Errorf("creating audit metadata: %w", err)
	}

	if req.Error != "" {
		slogctx.Warn(ctx, "Identity provider returned an error", "error", req.Error, "error_description", req.ErrorDescription)
		m.sendUserLoginFailureAudit(ctx, metadata, m.clientID, "identity provider error: "+req.Error)

		return Redirect{Location: errorRedirect(m.siteURL, m.landing, req.Error)}, nil
	}

	if req.Code == "" {
		return Redirect{}, &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: "missing required parameter: code"}
	}
	if req.State == "" {
		return Redirect{}, &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: "missing required parameter: state"}
	}

	payload, err := m.states.Decode(req.State)
	if err != nil {
		slogctx.Warn(ctx, "Rejected state parameter", "error", err)
		m.sendUserLoginFailureAudit(ctx, metadata, m.clientID, "invalid state")

		return Redirect{}, serviceerr.ErrInvalidState
	}

	tokens, err := m.provider.ExchangeCode(ctx, req.Code, payload.CodeVerifier)
	if err != nil {
		slogctx.Error(ctx, "Failed to exchange the authorization code",
			"error", err, "status", idp.StatusCode(err), "error_code", idp.ErrorCode(err))
		m.sendUserLoginFailureAudit(ctx, metadata, m.clientID, "failed to exchange code for tokens")

		return Redirect{Location: errorRedirect(m.siteURL, m.landing, string(serviceerr.CodeServerError))}, nil
	}

	slogctx.Info(ctx, "Exchanged the auth code for tokens")

	claims, err := m.verifier.Verify(ctx, tokens.IDToken, token.Expectation{
		TokenUse: token.UseID,
		Audience: m.clientID,
	})
	if err != nil {
		logRejection(ctx, "ID token", err)
		m.sendUserLoginFailureAudit(ctx, metadata, m.clientID, "id token verification failed")

		return Redirect{}, serviceerr.ErrUnauthorized
	}

	userID := claims.UserID()
	ctx = slogctx.With(ctx, "user_id", userID)

	p, err := m.profiles.Upsert(ctx, profile.Identity{
		UserID:     userID,
		Email:      claims.Email,
		Name:       claims.Name,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
		Username:   claims.Username,
	})
	if err != nil {
		m.sendUserLoginFailureAudit(ctx, metadata, userID, "failed to store user profile")
		return Redirect{}, fmt.Errorf("%w: upserting profile: %w", serviceerr.ErrServerError, err)
	}

	m.syncContact(ctx, p)

	cookies, err := m.tokenCookies(ctx, tokens.AccessToken, tokens.RefreshToken)
	if err != nil {
		return Redirect{}, fmt.Errorf("%w: %w", serviceerr.ErrServerError, err)
	}

	m.sendUserLoginSuccessAudit(ctx, metadata, userID)
	slogctx.Info(ctx, "Authentication successful")

	return Redirect{
		Location: AbsoluteURL(m.siteURL, SanitizeRedirectURL(payload.RedirectURL, m.landing)),
		Cookies:  cookies,
	}, nil
}

type MeRequest struct {
	AccessToken  string
	RefreshToken string
}

// MeResponse is the caller's profile plus the cookies to set when the
// access token had to be refreshed.
type MeResponse struct {
	Profile profile.Profile
	Cookies []*http.Cookie
}

// Me authenticates the request by its access token, refreshing it once
// when it is no longer valid, and returns the stored profile.
func (m *Manager) Me(ctx context.Context, req MeRequest) (MeResponse, error) {
	accessExp := token.Expectation{TokenUse: token.UseAccess, ClientID: m.clientID}

	var cookies []*http.Cookie
	claims, err := m.verifier.Verify(ctx, req.AccessToken, accessExp)
	if err != nil {
		if req.RefreshToken == "" {
			logRejection(ctx, "Access token", err)
			return MeResponse{}, serviceerr.ErrUnauthorized
		}

		slogctx.Debug(ctx, "Access token rejected; refreshing", "error", err)

		tokens, err := m.provider.Refresh(ctx, req.RefreshToken)
		if err != nil {
			slogctx.Warn(ctx, "Failed to refresh the access token",
				"error", err, "status", idp.StatusCode(err), "error_code", idp.ErrorCode(err))
			return MeResponse{}, serviceerr.ErrUnauthorized
		}

		claims, err = m.verifier.Verify(ctx, tokens.AccessToken, accessExp)
		if err != nil {
			logRejection(ctx, "Refreshed access token", err)
			return MeResponse{}, serviceerr.ErrUnauthorized
		}

		cookies, err = m.tokenCookies(ctx, tokens.AccessToken, tokens.RefreshToken)
		if err != nil {
			return MeResponse{}, fmt.Errorf("%w: %w", serviceerr.ErrServerError, err)
		}
	}

	userID := claims.UserID()
	if userID == "" {
		return MeResponse{}, serviceerr.ErrUnauthorized
	}

	p, err := m.profiles.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return MeResponse{}, serviceerr.ErrNotFound
		}

		return MeResponse{}, fmt.Errorf("%w: loading profile: %w", serviceerr.ErrServerError, err)
	}

	return MeResponse{Profile: p, Cookies: cookies}, nil
}

// Logout clears both token cookies and sends the browser to the hosted
// logout page, or straight to the landing page when that URL cannot be
// built.
func (m *Manager) Logout(ctx context.Context) Redirect {
	landing := AbsoluteURL(m.siteURL, m.landing)
	cookies := m.ClearCookies()

	location, err := m.provider.LogoutURL(landing)
	if err != nil {
		slogctx.Error(ctx, "Failed to build the logout URL", "error", err)
		location = landing
	}

	return Redirect{Location: location, Cookies: cookies}
}

func (m *Manager) tokenCookies(ctx context.Context, accessToken, refreshToken string) ([]*http.Cookie, error) {
	access, err := m.MakeAccessTokenCookie(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	cookies := []*http.Cookie{access}
	if refreshToken == "" {
		return cookies, nil
	}

	refresh, err := m.MakeRefreshTokenCookie(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	return append(cookies, refresh), nil
}

func (m *Manager) syncContact(ctx context.Context, p profile.Profile) {
	if p.ExternalContactID != "" || p.Email == "" {
		return
	}

	contactID, err := m.contacts.Sync(ctx, p.Email)
	if err != nil {
		slogctx.Warn(ctx, "Contact sync failed", "error", err)
		return
	}
	if contactID == "" {
		return
	}

	if err := m.profiles.SetExternalContactID(ctx, p.UserID, contactID); err != nil {
		slogctx.Warn(ctx, "Failed to store the external contact id", "error", err)
	}
}

func logRejection(ctx context.Context, what string, err error) {
	var rejection *token.Rejection
	if errors.As(err, &rejection) {
		slogctx.Warn(ctx, what+" rejected", "reason", rejection.Reason, "error", rejection.Cause)
		return
	}

	slogctx.Warn(ctx, what+" rejected", "error", err)
}
