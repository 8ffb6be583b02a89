// Package confirm issues and consumes the single-purpose tokens that prove
// control of an email address. A confirmation token is an email-confirm
// scoped claim set from the shared codec; it is single-use only by virtue of
// the account's confirmed flag flipping once, not by any stored nonce.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/addrbook/addrbook/internal/store"
	"github.com/addrbook/addrbook/internal/token"
)

// AccountStore is the slice of the account store the service needs.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*store.Account, error)
	SetConfirmed(ctx context.Context, email string, confirmed bool) error
}

// Service mints and redeems email-confirmation tokens.
type Service struct {
	codec    *token.Codec
	accounts AccountStore
	ttl      time.Duration
}

func New(codec *token.Codec, accounts AccountStore, ttl time.Duration) (*Service, error) {
	if codec == nil {
		return nil, errors.New("confirm: token codec is required")
	}
	if accounts == nil {
		return nil, errors.New("confirm: account store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("confirm: token lifetime must be positive")
	}
	return &Service{codec: codec, accounts: accounts, ttl: ttl}, nil
}

// Issue mints a confirmation token for the address.
func (s *Service) Issue(email string) (string, error) {
	return s.codec.Encode(email, token.ScopeEmailConfirm, s.ttl)
}

// Consume validates the token and marks its subject confirmed. Redeeming a
// token for an already-confirmed account is a no-op reported through the
// second return value, so resent or re-clicked links stay harmless. Token
// errors pass through; a subject with no account fails with
// store.ErrAccountNotFound.
func (s *Service) Consume(ctx context.Context, raw string) (string, bool, error) {
	claims, err := s.codec.Decode(raw, token.ScopeEmailConfirm)
	if err != nil {
		return "", false, err
	}
	email := claims.Subject

	acct, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return "", false, err
	}
	if acct.Confirmed {
		return email, true, nil
	}

	if err := s.accounts.SetConfirmed(ctx, email, true); err != nil {
		return "", false, fmt.Errorf("confirm account: %w", err)
	}
	return email, false, nil
}
