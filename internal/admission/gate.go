// Package admission decides whether a request may proceed at all, before any
// handler logic runs. It enforces per-route fixed-window rate limits over a
// shared counter store, so the decision holds across every process serving
// the same routes.
//
// Rejection is idempotent: once a window is full, further hits are refused
// without touching the counter, and each refusal reports how long until the
// window reopens.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited matches every rate-limit rejection via errors.Is.
	ErrRateLimited = errors.New("rate limited")
	// ErrCounterUnavailable wraps counter store failures. The gate fails
	// closed: no counter, no admission.
	ErrCounterUnavailable = errors.New("admission counter store unavailable")
)

// RateLimitedError is the rejection returned by Admit. RetryAfter is the
// remainder of the offending window.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// KeyStrategy picks which request dimension a rule counts by.
type KeyStrategy string

const (
	// KeyIP counts per client address.
	KeyIP KeyStrategy = "ip"
	// KeyAccount counts per authenticated account.
	KeyAccount KeyStrategy = "account"
	// KeyGlobal counts every request against one shared window.
	KeyGlobal KeyStrategy = "global"
)

// Rule is one route's admission budget: at most Requests hits per Window,
// counted by Key.
type Rule struct {
	Requests int
	Window   time.Duration
	Key      KeyStrategy
}

func (r Rule) Validate() error {
	if r.Requests < 1 {
		return errors.New("admission: rule needs at least 1 request per window")
	}
	if r.Window <= 0 {
		return errors.New("admission: rule window must be positive")
	}
	switch r.Key {
	case KeyIP, KeyAccount, KeyGlobal:
		return nil
	default:
		return fmt.Errorf("admission: unknown key strategy %q", r.Key)
	}
}

// CounterStore counts a hit against a key's fixed window. ok reports whether
// the hit was admitted; when it was not, retryAfter is the remaining window
// and the counter was left untouched. The check-and-count must be atomic
// with respect to concurrent callers on the same key: two racers must never
// both take the last slot.
type CounterStore interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (ok bool, retryAfter time.Duration, err error)
}

// Gate applies admission rules over a shared counter store.
type Gate struct {
	counters CounterStore
	prefix   string
}

func NewGate(counters CounterStore) (*Gate, error) {
	if counters == nil {
		return nil, errors.New("admission: counter store is required")
	}
	return &Gate{counters: counters, prefix: "addrbook:rl"}, nil
}

// Admit counts one hit for identity against the route's rule. It returns nil
// when the request may proceed, a *RateLimitedError when the window is full,
// or a wrapped ErrCounterUnavailable when the store cannot answer.
func (g *Gate) Admit(ctx context.Context, route, identity string, rule Rule) error {
	key := g.prefix + ":" + route + ":" + string(rule.Key) + ":" + identity

	ok, retryAfter, err := g.counters.Hit(ctx, key, rule.Requests, rule.Window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	if !ok {
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return nil
}
