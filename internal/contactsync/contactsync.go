// Package contactsync links authenticated users to CRM contacts. Sync is
// best effort: callers log failures and carry on.
package contactsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultHubSpotURL = "https://api.hubapi.com"

	// MaxResponseSize bounds every CRM response body.
	MaxResponseSize = 1 << 20
)

var ErrNoEmail = errors.New("contact sync requires an email address")

// Syncer finds or creates the CRM contact for an email address and
// returns its id.
type Syncer interface {
	Sync(ctx context.Context, email string) (string, error)
}

// Noop is used when contact sync is disabled.
type Noop struct{}

func (Noop) Sync(context.Context, string) (string, error) {
	return "", nil
}

type HubSpot struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Syncer = (*HubSpot)(nil)

func NewHubSpot(baseURL, token string, client *http.Client) *HubSpot {
	if baseURL == "" {
		baseURL = DefaultHubSpotURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &HubSpot{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
}

type contact struct {
	ID string `json:"id"`
}

type searchResponse struct {
	Results []contact `json:"results"`
}

type createRequest struct {
	Properties map[string]string `json:"properties"`
}

func (h *HubSpot) Sync(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", ErrNoEmail
	}

	var found searchResponse
	err := h.post(ctx, "/crm/v3/objects/contacts/search", searchRequest{
		FilterGroups: []filterGroup{{Filters: []filter{{PropertyName: "email", Operator: "EQ", Value: email}}}},
		Properties:   []string{"email"},
		Limit:        1,
	}, &found)
	if err != nil {
		return "", fmt.Errorf("searching contact: %w", err)
	}
	if len(found.Results) > 0 && found.Results[0].ID != "" {
		return found.Results[0].ID, nil
	}

	var created contact
	err = h.post(ctx, "/crm/v3/objects/contacts", createRequest{
		Properties: map[string]string{
			"email":          email,
			"lifecyclestage": "lead",
		},
	}, &created)
	if err != nil {
		return "", fmt.Errorf("creating contact: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("creating contact: response without id")
	}

	return created.ID, nil
}

func (h *HubSpot) post(ctx context.Context, path string, body, into any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(into); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
