package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/openkcm/auth-gateway/internal/serviceerr"
)

const (
	DefaultTTL = 10 * time.Minute

	MinSecretLength = 32
)

var ErrSecretTooShort = fmt.Errorf("state secret must be at least %d bytes", MinSecretLength)

// Payload is the data carried from login to callback through the IdP.
type Payload struct {
	RedirectURL  string    `json:"redirect_url"`
	CodeVerifier string    `json:"code_verifier"`
	Nonce        string    `json:"nonce"`
	IssuedAt     time.Time `json:"-"`
	Expiry       time.Time `json:"-"`
}

// Codec signs and verifies state tokens with a symmetric secret.
type Codec struct {
	secret []byte
	signer jose.Signer
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Codec)

func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: secret}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("creating state signer: %w", err)
	}

	c := &Codec{
		secret: secret,
		signer: signer,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Encode returns a compact JWS carrying the redirect target and the PKCE verifier.
func (c *Codec) Encode(redirectURL, codeVerifier string) (string, error) {
	now := c.now()
	std := jwt.Claims{
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(c.ttl)),
	}
	payload := Payload{
		RedirectURL:  redirectURL,
		CodeVerifier: codeVerifier,
		Nonce:        uuid.NewString(),
	}

	token, err := jwt.Signed(c.signer).Claims(std).Claims(payload).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}

	return token, nil
}

// Decode verifies the token and returns its payload. Every failure is
// reported as serviceerr.ErrInvalidState with the cause attached.
func (c *Codec) Decode(token string) (Payload, error) {
	if token == "" {
		return Payload{}, serviceerr.ErrInvalidState
	}

	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Payload{}, invalid(err)
	}

	var (
		std     jwt.Claims
		payload Payload
	)
	if err := parsed.Claims(c.secret, &std, &payload); err != nil {
		return Payload{}, invalid(err)
	}

	if std.Expiry == nil {
		return Payload{}, invalid(errors.New("missing expiry"))
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Time: c.now()}, 0); err != nil {
		return Payload{}, invalid(err)
	}

	if payload.CodeVerifier == "" {
		return Payload{}, invalid(errors.New("missing code verifier"))
	}

	payload.Expiry = std.Expiry.Time()
	if std.IssuedAt != nil {
		payload.IssuedAt = std.IssuedAt.Time()
	}

	return payload, nil
}

func invalid(cause error) error {
	return fmt.Errorf("%w: %w", serviceerr.ErrInvalidState, cause)
}
