// Package store owns the persistent records behind the authentication layer
// and the address book: accounts (the credential store the session manager
// rotates refresh tokens against) and contacts. Implementations ship in
// pairs — PostgreSQL for deployment, in-memory for tests — with identical
// observable semantics, so the auth core can be exercised without a database.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAccountNotFound is returned when no account matches the given email.
	ErrAccountNotFound = errors.New("account not found")
	// ErrDuplicateEmail is returned by Create when the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrRefreshMismatch is returned by RotateRefreshToken when the presented
	// token is not the account's current one: a newer session superseded it,
	// or it was revoked. Exactly one of N concurrent rotations with the same
	// current value succeeds; the rest get this error.
	ErrRefreshMismatch = errors.New("refresh token mismatch")
	// ErrContactNotFound is returned when a contact id does not exist for the user.
	ErrContactNotFound = errors.New("contact not found")
)

// Account is a registered principal. Email doubles as the token subject.
// RefreshToken holds the single live refresh token for the account; empty
// means no session can be refreshed.
type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Avatar       string
	Confirmed    bool
	RefreshToken string
	CreatedAt    time.Time
}

// Contact is one address-book entry owned by an account.
type Contact struct {
	ID           string
	UserID       string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	BirthDate    time.Time
	Relationship string
	CreatedAt    time.Time
}

// Accounts is the credential-store contract consumed by the auth core.
// All operations are strongly consistent single-record reads/writes.
type Accounts interface {
	// Create inserts a new unconfirmed account and returns it with ID and
	// CreatedAt populated. Fails with ErrDuplicateEmail on an email clash.
	Create(ctx context.Context, acct *Account) (*Account, error)

	// FindByEmail resolves an account or fails with ErrAccountNotFound.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// UpdateRefreshToken unconditionally overwrites the stored refresh token.
	// An empty token clears it, revoking every outstanding refresh token.
	UpdateRefreshToken(ctx context.Context, email, tok string) error

	// RotateRefreshToken atomically replaces the stored refresh token with
	// next, but only if the stored value still equals current. The
	// compare-and-swap is the critical section that makes concurrent
	// refreshes single-winner; it must hold across processes sharing the
	// store, not just across goroutines.
	RotateRefreshToken(ctx context.Context, email, current, next string) error

	// SetConfirmed flips the email-confirmation flag.
	SetConfirmed(ctx context.Context, email string, confirmed bool) error

	// UpdateAvatar replaces the avatar URL and returns the updated account.
	UpdateAvatar(ctx context.Context, email, url string) (*Account, error)
}

// Contacts is the address-book contract. Every operation is scoped to the
// owning account; a contact belonging to someone else is simply not found.
type Contacts interface {
	Create(ctx context.Context, c *Contact) (*Contact, error)
	Get(ctx context.Context, userID, id string) (*Contact, error)
	List(ctx context.Context, userID string, offset, limit int) ([]Contact, error)
	Update(ctx context.Context, userID, id string, c *Contact) (*Contact, error)
	Delete(ctx context.Context, userID, id string) (*Contact, error)

	// Find filters the user's contacts by case-insensitive substring match on
	// any combination of first name, last name and email. Empty arguments
	// match everything.
	Find(ctx context.Context, userID, firstName, lastName, email string) ([]Contact, error)

	// UpcomingBirthdays returns contacts whose birthday (month and day) falls
	// within the next `days` days, today inclusive, handling the year wrap.
	UpcomingBirthdays(ctx context.Context, userID string, days int) ([]Contact, error)
}
