package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	UseID     = "id"
	UseAccess = "access"
)

// ErrVerificationFailed is the only error callers should branch on.
var ErrVerificationFailed = errors.New("token verification failed")

// Rejection carries the reason a token was refused. The reason is for
// server-side logs only and must not reach the client.
type Rejection struct {
	Reason string
	Cause  error
}

func (r *Rejection) Error() string {
	if r.Cause == nil {
		return ErrVerificationFailed.Error() + ": " + r.Reason
	}

	return ErrVerificationFailed.Error() + ": " + r.Reason + ": " + r.Cause.Error()
}

func (r *Rejection) Unwrap() error {
	return ErrVerificationFailed
}

func reject(reason string, cause error) error {
	return &Rejection{Reason: reason, Cause: cause}
}

// KeySource resolves signing keys by key id.
type KeySource interface {
	Key(ctx context.Context, kid string) (jose.JSONWebKey, error)
}

// Expectation lists the claims a token must carry besides the issuer.
// Empty Audience and ClientID are not checked.
type Expectation struct {
	TokenUse string
	Audience string
	ClientID string
}

type Claims struct {
	Subject    string
	Email      string
	Name       string
	GivenName  string
	FamilyName string
	Username   string
	TokenUse   string
	ClientID   string
	Issuer     string
	Audience   []string
	Expiry     time.Time
}

type idpClaims struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	GivenName       string `json:"given_name"`
	FamilyName      string `json:"family_name"`
	Username        string `json:"username"`
	CognitoUsername string `json:"cognito:username"`
	TokenUse        string `json:"token_use"`
	ClientID        string `json:"client_id"`
}

type Verifier struct {
	keys   KeySource
	issuer string
	leeway time.Duration
	now    func() time.Time
}

type Option func(*Verifier)

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

func WithLeeway(leeway time.Duration) Option {
	return func(v *Verifier) {
		if leeway >= 0 {
			v.leeway = leeway
		}
	}
}

func NewVerifier(keys KeySource, issuer string, opts ...Option) *Verifier {
	v := &Verifier{
		keys:   keys,
		issuer: issuer,
		leeway: jwt.DefaultLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Verify checks the signature and claims of a compact RS256 token.
func (v *Verifier) Verify(ctx context.Context, raw string, exp Expectation) (Claims, error) {
	if raw == "" {
		return Claims{}, reject("empty token", nil)
	}

	parsed, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return Claims{}, reject("malformed token", err)
	}
	if len(parsed.Headers) != 1 {
		return Claims{}, reject("unexpected number of signatures", nil)
	}

	kid := parsed.Headers[0].KeyID
	if kid == "" {
		return Claims{}, reject("missing kid header", nil)
	}

	key, err := v.keys.Key(ctx, kid)
	if err != nil {
		return Claims{}, reject("signing key lookup", err)
	}
	if key.Algorithm != "" && key.Algorithm != string(jose.RS256) {
		return Claims{}, reject("signing key algorithm mismatch", fmt.Errorf("kid %q is %s", kid, key.Algorithm))
	}
	if key.Use != "" && key.Use != "sig" {
		return Claims{}, reject("signing key not meant for signatures", nil)
	}

	var (
		std    jwt.Claims
		custom idpClaims
	)
	if err := parsed.Claims(key.Public(), &std, &custom); err != nil {
		return Claims{}, reject("signature verification", err)
	}

	if std.Issuer != v.issuer {
		return Claims{}, reject("issuer mismatch", fmt.Errorf("got %q", std.Issuer))
	}
	if std.Expiry == nil {
		return Claims{}, reject("missing exp claim", nil)
	}

	expected := jwt.Expected{Time: v.now()}
	if exp.Audience != "" {
		expected.AnyAudience = jwt.Audience{exp.Audience}
	}
	if err := std.ValidateWithLeeway(expected, v.leeway); err != nil {
		return Claims{}, reject("registered claims", err)
	}

	if custom.TokenUse != exp.TokenUse {
		return Claims{}, reject("token_use mismatch", fmt.Errorf("got %q, want %q", custom.TokenUse, exp.TokenUse))
	}
	if exp.ClientID != "" && custom.ClientID != exp.ClientID {
		return Claims{}, reject("client_id mismatch", fmt.Errorf("got %q", custom.ClientID))
	}
	username := custom.Username
	if username == "" {
		username = custom.CognitoUsername
	}
	if std.Subject == "" && username == "" {
		return Claims{}, reject("missing subject", nil)
	}

	return Claims{
		Subject:    std.Subject,
		Email:      custom.Email,
		Name:       custom.Name,
		GivenName:  custom.GivenName,
		FamilyName: custom.FamilyName,
		Username:   username,
		TokenUse:   custom.TokenUse,
		ClientID:   custom.ClientID,
		Issuer:     std.Issuer,
		Audience:   std.Audience,
		Expiry:     std.Expiry.Time(),
	}, nil
}

// UserID returns the stable identifier of the authenticated user.
func (c Claims) UserID() string {
	if c.Subject != "" {
		return c.Subject
	}

	return c.Username
}
