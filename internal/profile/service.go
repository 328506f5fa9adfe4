package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-gateway/internal/serviceerr"
)

var ErrMissingUserID = errors.New("profile user id is empty")

type Service struct {
	repository Repository
	now        func() time.Time
	timeout    time.Duration
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimeout bounds every repository call. Zero leaves the caller's
// deadline in charge.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.timeout = d
	}
}

func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repository: repo,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, s.timeout)
}

// Upsert creates the profile on first login and refreshes its identity
// fields afterwards. Concurrent first logins converge on one record with
// the earliest creation time.
func (s *Service) Upsert(ctx context.Context, id Identity) (Profile, error) {
	if id.UserID == "" {
		return Profile{}, ErrMissingUserID
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now().UTC().Truncate(time.Millisecond)
	candidate := Profile{
		UserID:      id.UserID,
		Email:       id.Email,
		DisplayName: id.DisplayName(),
		GivenName:   id.GivenName,
		FamilyName:  id.FamilyName,
		Username:    id.Username,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.repository.PutIfAbsent(ctx, candidate)
	switch {
	case err == nil:
		slogctx.Info(ctx, "Created user profile")
		return candidate, nil
	case !errors.Is(err, serviceerr.ErrConflict):
		return Profile{}, fmt.Errorf("creating profile: %w", err)
	}

	displayName := candidate.DisplayName
	err = s.repository.Update(ctx, id.UserID, Fields{
		Email:       &candidate.Email,
		DisplayName: &displayName,
		GivenName:   &candidate.GivenName,
		FamilyName:  &candidate.FamilyName,
		Username:    &candidate.Username,
		CreatedAt:   &candidate.CreatedAt,
		UpdatedAt:   &candidate.UpdatedAt,
	})
	if err != nil {
		return Profile{}, fmt.Errorf("updating profile: %w", err)
	}

	stored, err := s.repository.Get(ctx, id.UserID)
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile: %w", err)
	}

	slogctx.Debug(ctx, "Updated user profile")

	return stored, nil
}

func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	if userID == "" {
		return Profile{}, ErrMissingUserID
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := s.repository.Get(ctx, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("getting profile: %w", err)
	}

	return p, nil
}

// SetExternalContactID links the profile to its CRM contact.
func (s *Service) SetExternalContactID(ctx context.Context, userID, contactID string) error {
	if userID == "" {
		return ErrMissingUserID
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now().UTC().Truncate(time.Millisecond)
	err := s.repository.Update(ctx, userID, Fields{
		ExternalContactID: &contactID,
		UpdatedAt:         &now,
	})
	if err != nil {
		return fmt.Errorf("setting external contact id: %w", err)
	}

	return nil
}
