package token_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-gateway/internal/idptest"
	"github.com/openkcm/auth-gateway/internal/jwks"
	"github.com/openkcm/auth-gateway/internal/token"
)

func newVerifier(t *testing.T, idp *idptest.Server, opts ...token.Option) *token.Verifier {
	t.Helper()

	cache := jwks.NewCache(jwks.URLFromIssuer(idp.Issuer()))
	return token.NewVerifier(cache, idp.Issuer(), opts...)
}

func withClaim(claims map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	if value == nil {
		delete(out, key)
	} else {
		out[key] = value
	}

	return out
}

func TestVerifier_Verify(t *testing.T) {
	idp := idptest.NewServer(t)
	v := newVerifier(t, idp)

	idExp := token.Expectation{TokenUse: token.UseID, Audience: idptest.ClientID}
	accessExp := token.Expectation{TokenUse: token.UseAccess, ClientID: idptest.ClientID}
	past := time.Now().Add(-2 * time.Hour).Unix()
	future := time.Now().Add(2 * time.Hour).Unix()

	tests := []struct {
		name      string
		raw       string
		exp       token.Expectation
		assertErr assert.ErrorAssertionFunc
		reason    string
	}{
		{
			name:      "Valid ID token",
			raw:       idp.IDToken(t),
			exp:       idExp,
			assertErr: assert.NoError,
		},
		{
			name:      "Valid access token",
			raw:       idp.AccessToken(t),
			exp:       accessExp,
			assertErr: assert.NoError,
		},
		{
			name:      "Empty token",
			raw:       "",
			exp:       idExp,
			assertErr: assert.Error,
			reason:    "empty token",
		},
		{
			name:      "Malformed token",
			raw:       "a.b.c",
			exp:       idExp,
			assertErr: assert.Error,
			reason:    "malformed token",
		},
		{
			name:      "Access token used as ID token",
			raw:       idp.AccessToken(t),
			exp:       token.Expectation{TokenUse: token.UseID},
			assertErr: assert.Error,
			reason:    "token_use mismatch",
		},
		{
			name:      "ID token used as access token",
			raw:       idp.IDToken(t),
			exp:       token.Expectation{TokenUse: token.UseAccess},
			assertErr: assert.Error,
			reason:    "token_use mismatch",
		},
		{
			name:      "Unknown signing key",
			raw:       idp.SignWithForeignKey(t, idp.IDClaims(), "rotated-away"),
			exp:       idExp,
			assertErr: assert.Error,
			reason:    "signing key lookup",
		},
		{
			name:      "Known kid with foreign key",
			raw:       idp.SignWithForeignKey(t, idp.IDClaims(), idptest.KeyID),
			exp:       idExp,
			assertErr: assert.Error,
			reason:    "signature verification",
		},
		{
			name:      "Wrong issuer",
			raw:       idp.Sign(t, withClaim(idp.IDClaims(), "iss", "https://evil.example.com")),
			exp:       idExp,
			assertErr: assert.Error,
			reason:    "issuer mismatch",
		},
		{
			name:      "Wrong audience",
			raw:       idp.Sign(t, withClaim(idp.IDClaims(), "aud", "another-client")),
			exp:       idExp,
			assertErr: assert.Error,
			reason:    "registered claims",
		},
		{
			name:      "Wrong client id",
			raw:       idp.Sign(t, withClaim(idp.AccessClaims(), "client_id", "another-client")),
			exp:       accessExp,
			assertErr: assert.Error,
			reason:    "client_id mismatch",
		},
		{
			name:      "Expired",
			raw:       idp.Sign(t, withClaim(idp.IDClaims(), "exp", past)),
			exp:       idExp,
			assertErr: assert.Error,
			reason:    "registered claims",
		},
		{
			name:      "Not yet valid",
			raw:       idp.Sign(t, withClaim(idp.IDClaims(), "nbf", future)),
			exp:       idExp,
			assertErr: assert.Error,
			reason:    "registered claims",
		},
		{
			name:      "Missing expiry",
			raw:       idp.Sign(t, withClaim(idp.IDClaims(), "exp", nil)),
			exp:       idExp,
			assertErr: assert.Error,
			reason:    "missing exp claim",
		},
		{
			name:      "Missing token_use",
			raw:       idp.Sign(t, withClaim(idp.AccessClaims(), "token_use", nil)),
			exp:       accessExp,
			assertErr: assert.Error,
			reason:    "token_use mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(t.Context(), tt.raw, tt.exp)
			if !tt.assertErr(t, err, fmt.Sprintf("Verify() error = %v", err)) || err != nil {
				assert.ErrorIs(t, err, token.ErrVerificationFailed)

				var rejection *token.Rejection
				require.ErrorAs(t, err, &rejection)
				assert.Equal(t, tt.reason, rejection.Reason)
				return
			}

			assert.Equal(t, "3f1c2a6e-0000-4000-8000-000000000001", claims.Subject)
			assert.Equal(t, "3f1c2a6e-0000-4000-8000-000000000001", claims.UserID())
			assert.Equal(t, tt.exp.TokenUse, claims.TokenUse)
			assert.Equal(t, idp.Issuer(), claims.Issuer)
			assert.False(t, claims.Expiry.IsZero())
		})
	}
}

func TestVerifier_IDTokenClaims(t *testing.T) {
	idp := idptest.NewServer(t)
	idp.SetUser(idptest.User{
		Subject:    "sub-42",
		Email:      "ada@example.com",
		Name:       "Ada Lovelace",
		GivenName:  "Ada",
		FamilyName: "Lovelace",
	})
	v := newVerifier(t, idp)

	claims, err := v.Verify(t.Context(), idp.IDToken(t), token.Expectation{TokenUse: token.UseID, Audience: idptest.ClientID})
	require.NoError(t, err)

	assert.Equal(t, "sub-42", claims.Subject)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "Ada Lovelace", claims.Name)
	assert.Equal(t, "Ada", claims.GivenName)
	assert.Equal(t, "Lovelace", claims.FamilyName)
	assert.Equal(t, "sub-42", claims.Username)
	assert.Equal(t, []string{idptest.ClientID}, claims.Audience)
}

func TestVerifier_SubjectFallback(t *testing.T) {
	idp := idptest.NewServer(t)
	v := newVerifier(t, idp)
	idExp := token.Expectation{TokenUse: token.UseID, Audience: idptest.ClientID}

	t.Run("cognito:username identifies the user", func(t *testing.T) {
		raw := idp.Sign(t, withClaim(idp.IDClaims(), "sub", nil))

		claims, err := v.Verify(t.Context(), raw, idExp)
		require.NoError(t, err)
		assert.Empty(t, claims.Subject)
		assert.Equal(t, idp.IDClaims()["cognito:username"], claims.UserID())
	})

	t.Run("no subject and no username", func(t *testing.T) {
		raw := idp.Sign(t, withClaim(withClaim(idp.IDClaims(), "sub", nil), "cognito:username", nil))

		_, err := v.Verify(t.Context(), raw, idExp)
		var rejection *token.Rejection
		require.ErrorAs(t, err, &rejection)
		assert.Equal(t, "missing subject", rejection.Reason)
	})
}

func TestVerifier_UsesInjectedClock(t *testing.T) {
	idp := idptest.NewServer(t)
	raw := idp.IDToken(t)
	exp := token.Expectation{TokenUse: token.UseID, Audience: idptest.ClientID}

	later := func() time.Time { return time.Now().Add(3 * time.Hour) }
	v := newVerifier(t, idp, token.WithClock(later), token.WithLeeway(0))

	_, err := v.Verify(t.Context(), raw, exp)
	require.ErrorIs(t, err, token.ErrVerificationFailed)
}

type failingKeys struct{}

func (failingKeys) Key(_ context.Context, _ string) (jose.JSONWebKey, error) {
	return jose.JSONWebKey{}, errors.New("jwks endpoint unavailable")
}

func TestVerifier_FailsClosedWhenKeysUnavailable(t *testing.T) {
	idp := idptest.NewServer(t)
	v := token.NewVerifier(failingKeys{}, idp.Issuer())

	_, err := v.Verify(t.Context(), idp.IDToken(t), token.Expectation{TokenUse: token.UseID})
	require.ErrorIs(t, err, token.ErrVerificationFailed)
}

func TestRejection_Error(t *testing.T) {
	err := &token.Rejection{Reason: "issuer mismatch"}
	assert.Equal(t, "token verification failed: issuer mismatch", err.Error())

	err = &token.Rejection{Reason: "signing key lookup", Cause: errors.New("boom")}
	assert.Equal(t, "token verification failed: signing key lookup: boom", err.Error())
	assert.ErrorIs(t, err, token.ErrVerificationFailed)
}
