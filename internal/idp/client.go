package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/openkcm/auth-gateway/internal/pkce"
)

var (
	ErrTokenEndpoint = errors.New("token endpoint request failed")
	ErrMissingToken  = errors.New("token response is missing a token")
)

var DefaultScopes = []string{"openid", "email", "profile"}

const (
	authorizePath = "/oauth2/authorize"
	signupPath    = "/signup"
	tokenPath     = "/oauth2/token"
	logoutPath    = "/logout"
)

type Config struct {
	// Domain is the hosted UI domain. A value without a scheme is
	// served over https.
	Domain      string
	ClientID    string
	RedirectURI string
	Scopes      []string
}

// TokenSet is what the token endpoint returned. RefreshToken is empty
// after a refresh that did not rotate the refresh token.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Expiry       time.Time
}

// Client talks to the IdP's OAuth 2.0 endpoints as a public client.
type Client struct {
	base       *url.URL
	clientID   string
	oauth      *oauth2.Config
	signup     *oauth2.Config
	httpClient *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.Domain == "" {
		return nil, errors.New("identity provider domain is empty")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("identity provider client id is empty")
	}

	base, err := BaseURL(cfg.Domain)
	if err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	endpoint := oauth2.Endpoint{
		AuthURL:   base.JoinPath(authorizePath).String(),
		TokenURL:  base.JoinPath(tokenPath).String(),
		AuthStyle: oauth2.AuthStyleInParams,
	}
	oauth := &oauth2.Config{
		ClientID:    cfg.ClientID,
		Endpoint:    endpoint,
		RedirectURL: cfg.RedirectURI,
		Scopes:      scopes,
	}

	signup := *oauth
	signup.Endpoint.AuthURL = base.JoinPath(signupPath).String()

	return &Client{
		base:       base,
		clientID:   cfg.ClientID,
		oauth:      oauth,
		signup:     &signup,
		httpClient: httpClient,
	}, nil
}

// BaseURL turns the configured domain into the hosted UI origin.
func BaseURL(domain string) (*url.URL, error) {
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}

	u, err := url.Parse(strings.TrimSuffix(domain, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing identity provider domain: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("identity provider domain %q has no host", domain)
	}

	return u, nil
}

// AuthorizeURL returns the hosted sign-in page for an authorization code
// request bound to state and the S256 challenge.
func (c *Client) AuthorizeURL(state, challenge string) string {
	return c.oauth.AuthCodeURL(state, challengeOptions(challenge)...)
}

// SignupURL is AuthorizeURL for the hosted sign-up page.
func (c *Client) SignupURL(state, challenge string) string {
	return c.signup.AuthCodeURL(state, challengeOptions(challenge)...)
}

// LogoutURL returns the hosted logout page that sends the browser back to
// logoutRedirect once the IdP session is gone.
func (c *Client) LogoutURL(logoutRedirect string) (string, error) {
	if logoutRedirect == "" {
		return "", errors.New("logout redirect is empty")
	}

	u, err := url.Parse(c.base.JoinPath(logoutPath).String())
	if err != nil {
		return "", fmt.Errorf("parsing logout url: %w", err)
	}

	q := u.Query()
	q.Set("client_id", c.clientID)
	q.Set("logout_uri", logoutRedirect)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ExchangeCode redeems an authorization code. Codes are single use so a
// failed exchange is never retried.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (TokenSet, error) {
	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: %w", ErrTokenEndpoint, err)
	}

	set := tokenSet(tok)
	if set.IDToken == "" {
		return TokenSet{}, fmt.Errorf("%w: id_token", ErrMissingToken)
	}

	return set, nil
}

// Refresh redeems a refresh token. Any failure means the session is over.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	if refreshToken == "" {
		return TokenSet{}, fmt.Errorf("%w: refresh_token", ErrMissingToken)
	}

	src := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: %w", ErrTokenEndpoint, err)
	}

	set := tokenSet(tok)
	// x/oauth2 carries the old refresh token over when none is returned
	if set.RefreshToken == refreshToken {
		set.RefreshToken = ""
	}

	return set, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func tokenSet(tok *oauth2.Token) TokenSet {
	idToken, _ := tok.Extra("id_token").(string)

	return TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		TokenType:    tok.Type(),
		Expiry:       tok.Expiry,
	}
}

func challengeOptions(challenge string) []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.MethodS256),
	}
}

// StatusCode returns the HTTP status of a failed token endpoint call, or 0
// when the call did not get a response.
func StatusCode(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}

	return 0
}

// ErrorCode returns the OAuth error code of a failed token endpoint call.
func ErrorCode(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.ErrorCode
	}

	return ""
}
