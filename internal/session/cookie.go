package session

import (
	"context"
	"fmt"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-gateway/internal/config"
)

func (m *Manager) AccessTokenCookieName() string {
	return m.accessCookieTemplate.Name
}

func (m *Manager) RefreshTokenCookieName() string {
	return m.refreshCookieTemplate.Name
}

func (m *Manager) MakeAccessTokenCookie(ctx context.Context, value string) (*http.Cookie, error) {
	return makeCookie(ctx, "Access token", m.accessCookieTemplate, value)
}

func (m *Manager) MakeRefreshTokenCookie(ctx context.Context, value string) (*http.Cookie, error) {
	return makeCookie(ctx, "Refresh token", m.refreshCookieTemplate, value)
}

// ClearCookies returns the cookies that remove both tokens from the browser.
func (m *Manager) ClearCookies() []*http.Cookie {
	return []*http.Cookie{
		m.accessCookieTemplate.ToClearCookie(),
		m.refreshCookieTemplate.ToClearCookie(),
	}
}

func makeCookie(ctx context.Context, label string, template config.CookieTemplate, value string) (*http.Cookie, error) {
	cookie := template.ToCookie(value)

	err := cookie.Valid()
	if err != nil {
		return nil, fmt.Errorf("invalid %s cookie: %w", label, err)
	}

	if !cookie.Secure {
		slogctx.Warn(ctx, label+" cookie is not marked as Secure; this is not recommended in production environments")
	}
	if !cookie.HttpOnly {
		slogctx.Warn(ctx, label+" cookie is not marked as HttpOnly; this is not recommended in production environments")
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		slogctx.Warn(ctx, label+" cookie is not marked as SameSite=Strict; this is not recommended in production environments")
	}

	return cookie, nil
}
