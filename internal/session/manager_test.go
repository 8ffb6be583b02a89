package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/addrbook/addrbook/internal/password"
	"github.com/addrbook/addrbook/internal/store"
	"github.com/addrbook/addrbook/internal/token"
)

func newTestManager(t *testing.T) (*Manager, *store.MemoryAccounts, *token.Codec) {
	t.Helper()

	codec, err := token.New(token.Config{Secret: []byte("session-test-secret")})
	if err != nil {
		t.Fatalf("token.New failed: %v", err)
	}
	hasher, err := password.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("password.NewHasher failed: %v", err)
	}
	accounts := store.NewMemoryAccounts()

	mgr, err := New(codec, accounts, hasher, Config{
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return mgr, accounts, codec
}

func seedAccount(t *testing.T, accounts *store.MemoryAccounts, email, passwd string, confirmed bool) {
	t.Helper()

	hasher, err := password.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("password.NewHasher failed: %v", err)
	}
	hash, err := hasher.Hash(passwd)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if _, err := accounts.Create(context.Background(), &store.Account{
		Username:     "deadpool",
		Email:        email,
		PasswordHash: hash,
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if confirmed {
		if err := accounts.SetConfirmed(context.Background(), email, true); err != nil {
			t.Fatalf("SetConfirmed failed: %v", err)
		}
	}
}

func TestLoginIssuesPairAndStoresRefresh(t *testing.T) {
	ctx := context.Background()
	mgr, accounts, _ := newTestManager(t)
	seedAccount(t, accounts, "dp@example.com", "secret-pass", true)

	pair, err := mgr.Login(ctx, "dp@example.com", "secret-pass")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens in the pair")
	}

	acct, err := accounts.FindByEmail(ctx, "dp@example.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if acct.RefreshToken != pair.RefreshToken {
		t.Fatal("stored refresh token does not match the issued one")
	}

	// A just-issued access token must authenticate to the same account.
	got, err := mgr.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.Email != "dp@example.com" {
		t.Fatalf("authenticated wrong account: %q", got.Email)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	mgr, accounts, _ := newTestManager(t)
	seedAccount(t, accounts, "dp@example.com", "secret-pass", true)

	// Wrong password and unknown email must be indistinguishable.
	_, wrongPass := mgr.Login(ctx, "dp@example.com", "not-the-password")
	_, unknown := mgr.Login(ctx, "ghost@example.com", "whatever-pass")

	if !errors.Is(wrongPass, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", wrongPass)
	}
	if !errors.Is(unknown, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", unknown)
	}
}

func TestLoginRejectsUnconfirmed(t *testing.T) {
	ctx := context.Background()
	mgr, accounts, _ := newTestManager(t)
	seedAccount(t, accounts, "dp@example.com", "secret-pass", false)

	_, err := mgr.Login(ctx, "dp@example.com", "secret-pass")
	if !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
}

func TestAuthenticateRejectsWrongScope(t *testing.T) {
	ctx := context.Background()
	mgr, accounts, _ := newTestManager(t)
	seedAccount(t, accounts, "dp@example.com", "secret-pass", true)

	pair, err := mgr.Login(ctx, "dp@example.com", "secret-pass")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := mgr.Authenticate(ctx, pair.RefreshToken); !errors.Is(err, token.ErrWrongScope) {
		t.Fatalf("expected ErrWrongScope for a refresh token, got %v", err)
	}
}

func TestAuthenticateRejectsExpired(t *testing.T) {
	ctx := context.Background()
	mgr, _, codec := newTestManager(t)

	raw, err := codec.Encode("dp@example.com", token.ScopeAccess, -time.Second)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if _, err := mgr.Authenticate(ctx, raw); !errors.Is(err, token.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestAuthenticateUnknownAccount(t *testing.T) {
	ctx := context.Background()
	mgr, _, codec := newTestManager(t)

	raw, err := codec.Encode("ghost@example.com", token.ScopeAccess, time.Hour)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if _, err := mgr.Authenticate(ctx, raw); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestRefreshRotatesAndInvalidatesPredecessor(t *testing.T) {
	ctx := context.Background()
	mgr, accounts, _ := newTestManager(t)
	seedAccount(t, accounts, "dp@example.com", "secret-pass", true)

	first, err := mgr.Login(ctx, "dp@example.com", "secret-pass")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	second, err := mgr.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}

	// The consumed token lost the session.
	if _, err := mgr.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRevokedSession) {
		t.Fatalf("expected ErrRevokedSession for the consumed token, got %v", err)
	}

	// The fresh one carries it forward.
	if _, err := mgr.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("Refresh with the rotated token failed: %v", err)
	}
}

func TestLoginDisplacesOutstandingRefreshToken(t *testing.T) {
	ctx := context.Background()
	mgr, accounts, _ := newTestManager(t)
	seedAccount(t, accounts, "dp@example.com", "secret-pass", true)

	first, err := mgr.Login(ctx, "dp@example.com", "secret-pass")
	if err != nil {
		t.Fatalf("first Login failed: %v", err)
	}
	if _, err := mgr.Login(ctx, "dp@example.com", "secret-pass"); err != nil {
		t.Fatalf("second Login failed: %v", err)
	}

	if _, err := mgr.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRevokedSession) {
		t.Fatalf("expected the earlier session to be displaced, got %v", err)
	}
}

func TestRefreshRejectsWrongScope(t *testing.T) {
	ctx := context.Background()
	mgr, accounts, _ := newTestManager(t)
	seedAccount(t, accounts, "dp@example.com", "secret-pass", true)

	pair, err := mgr.Login(ctx, "dp@example.com", "secret-pass")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := mgr.Refresh(ctx, pair.AccessToken); !errors.Is(err, token.ErrWrongScope) {
		t.Fatalf("expected ErrWrongScope for an access token, got %v", err)
	}
}

func TestRevokeEndsSessionButKeepsAccessAlive(t *testing.T) {
	ctx := context.Background()
	mgr, accounts, _ := newTestManager(t)
	seedAccount(t, accounts, "dp@example.com", "secret-pass", true)

	pair, err := mgr.Login(ctx, "dp@example.com", "secret-pass")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := mgr.Revoke(ctx, "dp@example.com"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	if _, err := mgr.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRevokedSession) {
		t.Fatalf("expected ErrRevokedSession after revoke, got %v", err)
	}

	// Revocation is a refresh-side mechanism; outstanding access tokens
	// ride out their expiry.
	if _, err := mgr.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("access token should survive revocation: %v", err)
	}

	if err := mgr.Revoke(ctx, "ghost@example.com"); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestRefreshRaceSingleWinner(t *testing.T) {
	ctx := context.Background()
	mgr, accounts, _ := newTestManager(t)
	seedAccount(t, accounts, "dp@example.com", "secret-pass", true)

	pair, err := mgr.Login(ctx, "dp@example.com", "secret-pass")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	results := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := mgr.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	var wins, revoked int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrRevokedSession):
			revoked++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning refresh, got %d", wins)
	}
	if revoked != workers-1 {
		t.Fatalf("expected %d revoked refreshes, got %d", workers-1, revoked)
	}
}
