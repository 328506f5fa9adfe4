package config

import "net/http"

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

// CookieTemplate holds every cookie attribute except its value.
type CookieTemplate struct {
	Name     string         `yaml:"name"`
	Path     string         `yaml:"path"`
	Domain   string         `yaml:"domain"`
	MaxAge   int            `yaml:"maxAge"`
	Secure   bool           `yaml:"secure"`
	HTTPOnly bool           `yaml:"httpOnly"`
	SameSite CookieSameSite `yaml:"sameSite"`
}

func DefaultAccessTokenCookie() CookieTemplate {
	return CookieTemplate{
		Name:     "access_token",
		Path:     "/",
		MaxAge:   3600,
		Secure:   true,
		HTTPOnly: true,
		SameSite: CookieSameSiteStrict,
	}
}

func DefaultRefreshTokenCookie() CookieTemplate {
	return CookieTemplate{
		Name:     "refresh_token",
		Path:     "/auth",
		MaxAge:   30 * 24 * 3600,
		Secure:   true,
		HTTPOnly: true,
		SameSite: CookieSameSiteStrict,
	}
}

func (ct *CookieTemplate) ToCookie(value string) *http.Cookie {
	var sameSite http.SameSite
	switch ct.SameSite {
	case CookieSameSiteNone:
		sameSite = http.SameSiteNoneMode
	case CookieSameSiteLax:
		sameSite = http.SameSiteLaxMode
	case CookieSameSiteStrict:
		sameSite = http.SameSiteStrictMode
	}

	return &http.Cookie{
		Name:     ct.Name,
		Value:    value,
		MaxAge:   ct.MaxAge,
		Path:     ct.Path,
		Domain:   ct.Domain,
		Secure:   ct.Secure,
		HttpOnly: ct.HTTPOnly,
		SameSite: sameSite,
	}
}

// ToClearCookie returns a cookie that makes the browser drop the one
// described by the template.
func (ct *CookieTemplate) ToClearCookie() *http.Cookie {
	c := ct.ToCookie("")
	c.MaxAge = -1

	return c
}
