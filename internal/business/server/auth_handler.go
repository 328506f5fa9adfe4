package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-gateway/internal/serviceerr"
	"github.com/openkcm/auth-gateway/internal/session"
)

type errorModel struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type profileModel struct {
	UserID            string    `json:"userId"`
	Email             string    `json:"email"`
	DisplayName       string    `json:"displayName"`
	GivenName         string    `json:"givenName"`
	FamilyName        string    `json:"familyName"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	ExternalContactID string    `json:"externalContactId,omitempty"`
}

// authHandler translates the session manager's outcomes into HTTP.
type authHandler struct {
	sManager *session.Manager
	realm    string
}

func newAuthHandler(sManager *session.Manager, realm string) *authHandler {
	if realm == "" {
		realm = "auth-gateway"
	}

	return &authHandler{
		sManager: sManager,
		realm:    realm,
	}
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	location, err := h.sManager.Login(ctx, r.URL.Query().Get("redirect_url"))
	if err != nil {
		slogctx.Error(ctx, "Failed to build the authorize URL", "error", err)
		h.writeError(w, err)
		return
	}

	redirect(w, r, location)
}

func (h *authHandler) signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	location, err := h.sManager.Signup(ctx, r.URL.Query().Get("redirect_url"))
	if err != nil {
		slogctx.Error(ctx, "Failed to build the signup URL", "error", err)
		h.writeError(w, err)
		return
	}

	redirect(w, r, location)
}

func (h *authHandler) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	res, err := h.sManager.Callback(ctx, session.CallbackRequest{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		slogctx.Warn(ctx, "Callback failed", "error", err)
		h.writeError(w, err)
		return
	}

	for _, c := range res.Cookies {
		http.SetCookie(w, c)
	}
	redirect(w, r, res.Location)
}

func (h *authHandler) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.sManager.Me(ctx, session.MeRequest{
		AccessToken:  cookieValue(r, h.sManager.AccessTokenCookieName()),
		RefreshToken: cookieValue(r, h.sManager.RefreshTokenCookieName()),
	})
	if err != nil {
		if !errors.Is(err, serviceerr.ErrUnauthorized) && !errors.Is(err, serviceerr.ErrNotFound) {
			slogctx.Error(ctx, "Failed to load the profile", "error", err)
		}
		h.writeError(w, err)
		return
	}

	for _, c := range res.Cookies {
		http.SetCookie(w, c)
	}

	p := res.Profile
	w.Header().Set("Cache-Control", "no-store, private")
	writeJSON(w, http.StatusOK, profileModel{
		UserID:            p.UserID,
		Email:             p.Email,
		DisplayName:       p.DisplayName,
		GivenName:         p.GivenName,
		FamilyName:        p.FamilyName,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		ExternalContactID: p.ExternalContactID,
	})
}

func (h *authHandler) logout(w http.ResponseWriter, r *http.Request) {
	res := h.sManager.Logout(r.Context())

	for _, c := range res.Cookies {
		http.SetCookie(w, c)
	}
	redirect(w, r, res.Location)
}

func (h *authHandler) writeError(w http.ResponseWriter, err error) {
	var serviceErr *serviceerr.Error
	if !errors.As(err, &serviceErr) {
		serviceErr = serviceerr.ErrUnknown
	}

	status := serviceErr.HTTPStatus()
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", h.realm))
	}
	w.Header().Set("Cache-Control", "no-store")

	writeJSON(w, status, errorModel{
		Error:            string(serviceErr.Err),
		ErrorDescription: serviceErr.Description,
	})
}

func redirect(w http.ResponseWriter, r *http.Request, location string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, location, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}

	return c.Value
}
