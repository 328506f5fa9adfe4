package profile

import "context"

// Repository stores profiles. Every method is a single atomic operation
// against the backing store.
type Repository interface {
	// Get returns serviceerr.ErrNotFound for an unknown user.
	Get(ctx context.Context, userID string) (Profile, error)
	// PutIfAbsent returns serviceerr.ErrConflict when the user exists.
	PutIfAbsent(ctx context.Context, p Profile) error
	// Update returns serviceerr.ErrNotFound for an unknown user.
	Update(ctx context.Context, userID string, f Fields) error
}
