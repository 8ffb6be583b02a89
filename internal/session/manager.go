// Package session owns the authenticated session lifecycle: verifying
// credentials, issuing access/refresh pairs, validating access tokens,
// rotating refresh tokens, and revoking sessions.
//
// A session is exactly one live refresh token per account. Issuing a pair
// overwrites whatever token was stored before, and rotation swaps the token
// only while the presented one is still live, so of N concurrent refreshes
// carrying the same token exactly one wins and the rest see
// ErrRevokedSession.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/addrbook/addrbook/internal/store"
	"github.com/addrbook/addrbook/internal/token"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password; callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotConfirmed rejects logins for accounts that never followed the
	// confirmation link.
	ErrNotConfirmed = errors.New("email not confirmed")
	// ErrRevokedSession means the presented refresh token is no longer the
	// live one: it was rotated away, lost a concurrent refresh, or the
	// session was revoked.
	ErrRevokedSession = errors.New("session revoked or superseded")
	// ErrUnknownAccount means the token was valid but its subject no longer
	// resolves to an account.
	ErrUnknownAccount = errors.New("unknown account")
)

// CredentialStore is the slice of the account store the manager needs.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*store.Account, error)
	UpdateRefreshToken(ctx context.Context, email, tok string) error
	RotateRefreshToken(ctx context.Context, email, current, next string) error
}

// PasswordVerifier checks a password against a stored hash.
type PasswordVerifier interface {
	Verify(password string, encodedHash string) (bool, error)
}

// TokenPair is one issued session: a short-lived access token and the
// refresh token that can mint its successor.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Config carries the two token lifetimes.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Manager drives the session lifecycle over a token codec and a credential
// store.
type Manager struct {
	codec      *token.Codec
	creds      CredentialStore
	passwords  PasswordVerifier
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func New(codec *token.Codec, creds CredentialStore, passwords PasswordVerifier, cfg Config) (*Manager, error) {
	if codec == nil {
		return nil, errors.New("session: token codec is required")
	}
	if creds == nil {
		return nil, errors.New("session: credential store is required")
	}
	if passwords == nil {
		return nil, errors.New("session: password verifier is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("session: token lifetimes must be positive")
	}
	return &Manager{
		codec:      codec,
		creds:      creds,
		passwords:  passwords,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

// Login verifies the credentials and opens a session. Unknown email and
// wrong password both come back as ErrInvalidCredentials; an unconfirmed
// account fails with ErrNotConfirmed even when the password is right.
func (m *Manager) Login(ctx context.Context, email, passwd string) (*TokenPair, error) {
	acct, err := m.creds.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	ok, err := m.passwords.Verify(passwd, acct.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !acct.Confirmed {
		return nil, ErrNotConfirmed
	}

	return m.IssuePair(ctx, email)
}

// IssuePair mints a fresh access/refresh pair for the subject and stores the
// refresh token, displacing any previously live session.
func (m *Manager) IssuePair(ctx context.Context, email string) (*TokenPair, error) {
	pair, err := m.mintPair(email)
	if err != nil {
		return nil, err
	}
	if err := m.creds.UpdateRefreshToken(ctx, email, pair.RefreshToken); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

// Authenticate resolves a bearer access token to its account. Token errors
// pass through untouched so callers can distinguish expired from malformed.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (*store.Account, error) {
	claims, err := m.codec.Decode(accessToken, token.ScopeAccess)
	if err != nil {
		return nil, err
	}

	acct, err := m.creds.FindByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return acct, nil
}

// Refresh exchanges a live refresh token for a new pair. The swap is a
// compare-and-rotate in the store: presenting a token that already lost the
// race, or was revoked, fails with ErrRevokedSession and leaves the winner's
// session intact.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := m.codec.Decode(refreshToken, token.ScopeRefresh)
	if err != nil {
		return nil, err
	}
	email := claims.Subject

	pair, err := m.mintPair(email)
	if err != nil {
		return nil, err
	}

	err = m.creds.RotateRefreshToken(ctx, email, refreshToken, pair.RefreshToken)
	switch {
	case err == nil:
		return pair, nil
	case errors.Is(err, store.ErrRefreshMismatch):
		// Either an honest double-refresh or a replayed stolen token;
		// worth a trace either way.
		slog.Warn("stale refresh token presented", "subject", email)
		return nil, ErrRevokedSession
	case errors.Is(err, store.ErrAccountNotFound):
		return nil, ErrUnknownAccount
	default:
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
}

// Revoke ends the subject's session by clearing the stored refresh token.
// Outstanding access tokens stay valid until they expire.
func (m *Manager) Revoke(ctx context.Context, email string) error {
	if err := m.creds.UpdateRefreshToken(ctx, email, ""); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrUnknownAccount
		}
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (m *Manager) mintPair(email string) (*TokenPair, error) {
	access, err := m.codec.Encode(email, token.ScopeAccess, m.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := m.codec.Encode(email, token.ScopeRefresh, m.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
