package profilemock

import (
	"context"
	"sync"

	"github.com/openkcm/auth-gateway/internal/profile"
	"github.com/openkcm/auth-gateway/internal/serviceerr"
)

type RepositoryOption func(*Repository)

// Repository is an in-memory profile.Repository with the same conflict
// and merge semantics as the real stores.
type Repository struct {
	mu       sync.Mutex
	profiles map[string]profile.Profile

	getErr, putErr, updateErr error
}

func WithProfile(p profile.Profile) RepositoryOption {
	return func(r *Repository) { r.profiles[p.UserID] = p }
}
func WithGetError(err error) RepositoryOption {
	return func(r *Repository) { r.getErr = err }
}
func WithPutError(err error) RepositoryOption {
	return func(r *Repository) { r.putErr = err }
}
func WithUpdateError(err error) RepositoryOption {
	return func(r *Repository) { r.updateErr = err }
}

var _ = profile.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		profiles: make(map[string]profile.Profile),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// TLen is a helper method for tests to count the stored profiles.
func (r *Repository) TLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.profiles)
}

func (r *Repository) Get(_ context.Context, userID string) (profile.Profile, error) {
	if r.getErr != nil {
		return profile.Profile{}, r.getErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.profiles[userID]; ok {
		return p, nil
	}
	return profile.Profile{}, serviceerr.ErrNotFound
}

func (r *Repository) PutIfAbsent(_ context.Context, p profile.Profile) error {
	if r.putErr != nil {
		return r.putErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.UserID]; ok {
		return serviceerr.ErrConflict
	}
	r.profiles[p.UserID] = p
	return nil
}

func (r *Repository) Update(_ context.Context, userID string, f profile.Fields) error {
	if r.updateErr != nil {
		return r.updateErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return serviceerr.ErrNotFound
	}

	set(&p.Email, f.Email)
	set(&p.DisplayName, f.DisplayName)
	set(&p.GivenName, f.GivenName)
	set(&p.FamilyName, f.FamilyName)
	set(&p.Username, f.Username)
	set(&p.ExternalContactID, f.ExternalContactID)
	if f.UpdatedAt != nil && f.UpdatedAt.After(p.UpdatedAt) {
		p.UpdatedAt = *f.UpdatedAt
	}
	if f.CreatedAt != nil && f.CreatedAt.Before(p.CreatedAt) {
		p.CreatedAt = *f.CreatedAt
	}

	r.profiles[userID] = p
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
