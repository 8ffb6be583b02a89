package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/addrbook/addrbook/internal/admission"
	"github.com/addrbook/addrbook/internal/confirm"
	"github.com/addrbook/addrbook/internal/mail"
	"github.com/addrbook/addrbook/internal/metrics"
	"github.com/addrbook/addrbook/internal/password"
	"github.com/addrbook/addrbook/internal/session"
	"github.com/addrbook/addrbook/internal/store"
	"github.com/addrbook/addrbook/internal/token"
)

// recordingSender captures outgoing mail so tests can follow the
// confirmation link.
type recordingSender struct {
	sent chan mail.Message
}

func (r *recordingSender) Send(_ context.Context, msg mail.Message) error {
	r.sent <- msg
	return nil
}

// testServer is the full HTTP stack over in-memory stores and miniredis.
type testServer struct {
	router   *gin.Engine
	accounts *store.MemoryAccounts
	contacts *store.MemoryContacts
	codec    *token.Codec
	outbox   *recordingSender
	mr       *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	codec, err := token.New(token.Config{Secret: []byte("httpapi-test-secret")})
	require.NoError(t, err)

	hasher, err := password.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	accounts := store.NewMemoryAccounts()
	contacts := store.NewMemoryContacts()

	sessions, err := session.New(codec, accounts, hasher, session.Config{
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	require.NoError(t, err)

	confirms, err := confirm.New(codec, accounts, time.Hour)
	require.NoError(t, err)

	gate, err := admission.NewGate(admission.NewRedisCounter(rdb))
	require.NoError(t, err)

	sender := &recordingSender{sent: make(chan mail.Message, 8)}

	srv, err := New(Config{
		PublicBaseURL:     "http://localhost:8080",
		CORSOrigins:       []string{"http://localhost:3000"},
		SignupRule:        admission.Rule{Requests: 5, Window: time.Minute, Key: admission.KeyIP},
		ContactCreateRule: admission.Rule{Requests: 2, Window: 5 * time.Second, Key: admission.KeyIP},
		ResendConfirmRule: admission.Rule{Requests: 3, Window: 10 * time.Minute, Key: admission.KeyIP},
	}, Deps{
		Sessions: sessions,
		Confirms: confirms,
		Gate:     gate,
		Accounts: accounts,
		Contacts: contacts,
		Hasher:   hasher,
		Sender:   sender,
		Metrics:  metrics.New(),
	})
	require.NoError(t, err)

	return &testServer{
		router:   srv.Router(),
		accounts: accounts,
		contacts: contacts,
		codec:    codec,
		outbox:   sender,
		mr:       mr,
	}
}

// do runs one request through the router. body is JSON-encoded when non-nil;
// header may be nil.
func (ts *testServer) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), into), "body: %s", w.Body.String())
}

// signup registers an account and returns the confirmation token from the
// captured mail.
func (ts *testServer) signup(t *testing.T, username, email, passwd string) string {
	t.Helper()

	w := ts.do(t, http.MethodPost, "/api/auth/signup", gin.H{
		"username": username,
		"email":    email,
		"password": passwd,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, "signup body: %s", w.Body.String())

	return extractConfirmToken(t, ts.waitMail(t))
}

// confirmedAccount registers and confirms an account, then logs in and
// returns the token pair.
func (ts *testServer) confirmedAccount(t *testing.T, username, email, passwd string) tokenPairView {
	t.Helper()

	confirmToken := ts.signup(t, username, email, passwd)
	w := ts.do(t, http.MethodGet, "/api/auth/confirm/"+confirmToken, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	return ts.login(t, email, passwd)
}

func (ts *testServer) login(t *testing.T, email, passwd string) tokenPairView {
	t.Helper()

	w := ts.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": email, "password": passwd}, nil)
	require.Equal(t, http.StatusOK, w.Code, "login body: %s", w.Body.String())

	var pair tokenPairView
	decodeJSON(t, w, &pair)
	return pair
}

// waitMail blocks until the detached delivery goroutine hands over a
// message.
func (ts *testServer) waitMail(t *testing.T) mail.Message {
	t.Helper()

	select {
	case msg := <-ts.outbox.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no mail delivered within 2s")
		return mail.Message{}
	}
}

// noMail asserts that nothing is delivered in a short grace period.
func (ts *testServer) noMail(t *testing.T) {
	t.Helper()

	select {
	case msg := <-ts.outbox.sent:
		t.Fatalf("unexpected mail to %s", msg.To)
	case <-time.After(100 * time.Millisecond):
	}
}

func extractConfirmToken(t *testing.T, msg mail.Message) string {
	t.Helper()

	const marker = "/api/auth/confirm/"
	i := strings.Index(msg.HTML, marker)
	require.GreaterOrEqual(t, i, 0, "confirmation link missing from mail body")

	rest := msg.HTML[i+len(marker):]
	end := strings.IndexByte(rest, '"')
	require.GreaterOrEqual(t, end, 0, "confirmation link not terminated")
	return rest[:end]
}
