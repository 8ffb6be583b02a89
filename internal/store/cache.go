package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedAccounts is a Redis read-through decorator for an Accounts store,
// keyed by email. Accounts it returns never carry the refresh token, cached
// or not: rotation compares against the inner store only, so a stale cache
// can never let a superseded refresh token win.
//
// Cache failures degrade to the inner store and are logged, never surfaced.
type CachedAccounts struct {
	inner  Accounts
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewCachedAccounts(inner Accounts, rdb redis.UniversalClient, ttl time.Duration) *CachedAccounts {
	return &CachedAccounts{inner: inner, rdb: rdb, prefix: "addrbook:account", ttl: ttl}
}

var _ Accounts = (*CachedAccounts)(nil)

func (c *CachedAccounts) key(email string) string {
	return c.prefix + ":" + email
}

func (c *CachedAccounts) lookup(ctx context.Context, email string) *Account {
	raw, err := c.rdb.Get(ctx, c.key(email)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("account cache read failed", "error", err)
		}
		return nil
	}
	acct := &Account{}
	if err := json.Unmarshal(raw, acct); err != nil {
		slog.Warn("account cache entry corrupt, dropping", "error", err)
		c.invalidate(ctx, email)
		return nil
	}
	return acct
}

func (c *CachedAccounts) fill(ctx context.Context, acct *Account) {
	raw, err := json.Marshal(stripToken(acct))
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(acct.Email), raw, c.ttl).Err(); err != nil {
		slog.Warn("account cache write failed", "error", err)
	}
}

func (c *CachedAccounts) invalidate(ctx context.Context, email string) {
	if err := c.rdb.Del(ctx, c.key(email)).Err(); err != nil {
		slog.Warn("account cache invalidation failed", "error", err)
	}
}

func stripToken(acct *Account) *Account {
	cp := *acct
	cp.RefreshToken = ""
	return &cp
}

func (c *CachedAccounts) Create(ctx context.Context, acct *Account) (*Account, error) {
	created, err := c.inner.Create(ctx, acct)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, created)
	return stripToken(created), nil
}

func (c *CachedAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	if acct := c.lookup(ctx, email); acct != nil {
		return acct, nil
	}
	acct, err := c.inner.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, acct)
	return stripToken(acct), nil
}

// UpdateRefreshToken goes straight to the inner store: refresh tokens are
// never cached.
func (c *CachedAccounts) UpdateRefreshToken(ctx context.Context, email, tok string) error {
	return c.inner.UpdateRefreshToken(ctx, email, tok)
}

// RotateRefreshToken goes straight to the inner store, which owns the
// compare-and-swap.
func (c *CachedAccounts) RotateRefreshToken(ctx context.Context, email, current, next string) error {
	return c.inner.RotateRefreshToken(ctx, email, current, next)
}

func (c *CachedAccounts) SetConfirmed(ctx context.Context, email string, confirmed bool) error {
	if err := c.inner.SetConfirmed(ctx, email, confirmed); err != nil {
		return err
	}
	c.invalidate(ctx, email)
	return nil
}

func (c *CachedAccounts) UpdateAvatar(ctx context.Context, email, url string) (*Account, error) {
	acct, err := c.inner.UpdateAvatar(ctx, email, url)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, acct)
	return stripToken(acct), nil
}
