package identity

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no identity matches the lookup.
	ErrNotFound = errors.New("identity not found")
	// ErrVersionConflict is returned by Update when the stored version moved on.
	ErrVersionConflict = errors.New("identity version conflict")
	// ErrDuplicate is returned by Create when username or email is taken.
	ErrDuplicate = errors.New("identity username or email already exists")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("identity store unavailable")
)

// Store is the identity persistence contract.
//
// Implementations must be safe for concurrent use. Update must be atomic per identity:
// it succeeds only when the stored version equals expectedVersion, and on success the
// stored version becomes expectedVersion+1.
type Store interface {
	// GetByLogin looks up by username first, then by email.
	GetByLogin(ctx context.Context, login string) (Identity, error)
	GetByID(ctx context.Context, id string) (Identity, error)
	Create(ctx context.Context, rec Identity) (Identity, error)
	Update(ctx context.Context, rec Identity, expectedVersion uint64) (Identity, error)
	ListByRole(ctx context.Context, roleID string) ([]Identity, error)
	// List returns every identity ordered by username.
	List(ctx context.Context) ([]Identity, error)
}

// Mutate applies fn to the latest copy of an identity and persists it with an
// optimistic version check, re-reading and re-applying on conflict up to maxRetries
// times. fn may return a non-nil error to abort without writing.
func Mutate(
	ctx context.Context,
	store Store,
	id string,
	maxRetries int,
	fn func(rec *Identity) error,
) (Identity, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		current, err := store.GetByID(ctx, id)
		if err != nil {
			return Identity{}, err
		}

		next := current.Clone()
		if err := fn(&next); err != nil {
			return current, err
		}

		saved, err := store.Update(ctx, next, current.Version)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Identity{}, err
		}
		lastErr = err

		if err := ctx.Err(); err != nil {
			return Identity{}, err
		}
	}

	return Identity{}, lastErr
}
