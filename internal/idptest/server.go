// Package idptest provides an in-process identity provider for tests. It
// serves a key set and a token endpoint and signs RS256 tokens shaped like
// the ones a Cognito user pool issues.
package idptest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	KeyID    = "test-kid"
	ClientID = "test-client-id"
)

// User is the identity the token endpoint issues tokens for.
type User struct {
	Subject    string
	Email      string
	Name       string
	GivenName  string
	FamilyName string
}

type Server struct {
	*httptest.Server

	key    *rsa.PrivateKey
	signer jose.Signer

	ExchangeCalls atomic.Int32
	RefreshCalls  atomic.Int32
	JWKSCalls     atomic.Int32

	mu            sync.Mutex
	user          User
	exchangeFail  bool
	refreshFail   bool
	rotateRefresh bool
	lastForm      url.Values
	now           func() time.Time
}

func NewServer(t *testing.T) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key:       jose.JSONWebKey{Key: key, KeyID: KeyID, Algorithm: string(jose.RS256)},
	}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	s := &Server{
		key:    key,
		signer: signer,
		user: User{
			Subject:    "3f1c2a6e-0000-4000-8000-000000000001",
			Email:      "jane.doe@example.com",
			Name:       "Jane Doe",
			GivenName:  "Jane",
			FamilyName: "Doe",
		},
		now: time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/jwks.json", s.handleJWKS)
	mux.HandleFunc("POST /oauth2/token", s.handleToken)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// Issuer is the value of the iss claim of every token this server signs.
func (s *Server) Issuer() string {
	return s.URL
}

func (s *Server) SetUser(u User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// FailExchange makes the authorization_code grant answer 400.
func (s *Server) FailExchange(fail bool) {
	s.mu.Lock()
	s.exchangeFail = fail
	s.mu.Unlock()
}

// FailRefresh makes the refresh_token grant answer 400.
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	s.refreshFail = fail
	s.mu.Unlock()
}

// RotateRefreshTokens makes the refresh_token grant return a new refresh token.
func (s *Server) RotateRefreshTokens(rotate bool) {
	s.mu.Lock()
	s.rotateRefresh = rotate
	s.mu.Unlock()
}

// LastForm returns the form of the most recent token request.
func (s *Server) LastForm() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastForm
}

// IDToken signs an ID token for the current user.
func (s *Server) IDToken(t *testing.T) string {
	t.Helper()
	return s.Sign(t, s.IDClaims())
}

// AccessToken signs an access token for the current user.
func (s *Server) AccessToken(t *testing.T) string {
	t.Helper()
	return s.Sign(t, s.AccessClaims())
}

func (s *Server) IDClaims() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	return map[string]any{
		"sub":              s.user.Subject,
		"iss":              s.URL,
		"aud":              ClientID,
		"iat":              now.Unix(),
		"exp":              now.Add(time.Hour).Unix(),
		"auth_time":        now.Unix(),
		"token_use":        "id",
		"email":            s.user.Email,
		"email_verified":   true,
		"name":             s.user.Name,
		"given_name":       s.user.GivenName,
		"family_name":      s.user.FamilyName,
		"cognito:username": s.user.Subject,
	}
}

func (s *Server) AccessClaims() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	return map[string]any{
		"sub":       s.user.Subject,
		"iss":       s.URL,
		"client_id": ClientID,
		"iat":       now.Unix(),
		"exp":       now.Add(time.Hour).Unix(),
		"token_use": "access",
		"scope":     "openid email profile",
		"username":  s.user.Subject,
		"jti":       uuid.NewString(),
	}
}

// Sign signs arbitrary claims with the published key.
func (s *Server) Sign(t *testing.T, claims any) string {
	t.Helper()

	raw, err := jwt.Signed(s.signer).Claims(claims).Serialize()
	require.NoError(t, err)

	return raw
}

// SignWithForeignKey signs claims with a key that is not in the key set but
// reuses the published key id.
func (s *Server) SignWithForeignKey(t *testing.T, claims any, kid string) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key:       jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: string(jose.RS256)},
	}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	raw, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)

	return raw
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	s.JWKSCalls.Add(1)

	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.key.PublicKey,
		KeyID:     KeyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	s.mu.Lock()
	s.lastForm = r.PostForm
	exchangeFail, refreshFail, rotate := s.exchangeFail, s.refreshFail, s.rotateRefresh
	s.mu.Unlock()

	if r.PostForm.Get("client_id") != ClientID {
		writeError(w, http.StatusBadRequest, "invalid_client")
		return
	}

	resp := map[string]any{
		"token_type": "Bearer",
		"expires_in": 3600,
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.ExchangeCalls.Add(1)
		if exchangeFail || r.PostForm.Get("code") == "" || r.PostForm.Get("code_verifier") == "" {
			writeError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		resp["id_token"] = s.signClaims(s.IDClaims())
		resp["access_token"] = s.signClaims(s.AccessClaims())
		resp["refresh_token"] = "refresh-" + uuid.NewString()
	case "refresh_token":
		s.RefreshCalls.Add(1)
		if refreshFail || r.PostForm.Get("refresh_token") == "" {
			writeError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		resp["id_token"] = s.signClaims(s.IDClaims())
		resp["access_token"] = s.signClaims(s.AccessClaims())
		if rotate {
			resp["refresh_token"] = "refresh-" + uuid.NewString()
		}
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) signClaims(claims any) string {
	raw, err := jwt.Signed(s.signer).Claims(claims).Serialize()
	if err != nil {
		panic(err)
	}

	return raw
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
