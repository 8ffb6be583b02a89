package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"

	"github.com/addrbook/addrbook/internal/admission"
	"github.com/addrbook/addrbook/internal/session"
	"github.com/addrbook/addrbook/internal/store"
	"github.com/addrbook/addrbook/internal/token"
)

// accountKey is the context key the auth middleware stores the resolved
// account under.
const accountKey = "httpapi.account"

var errMissingBearer = errors.New("missing bearer token")

// cors answers preflight requests and stamps the CORS headers on every
// response for configured origins.
func (s *Server) cors() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.cfg.CORSOrigins))
	for _, origin := range s.cfg.CORSOrigins {
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowed["*"]:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Origin, Authorization, Accept, Accept-Encoding, X-Request-Id")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger attaches a request-scoped logger carrying the request id and
// writes one line per finished request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		rlog := s.log.With(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
			"request_id", requestid.Get(c),
		)

		start := time.Now()
		rlog.Debug("request started")
		c.Next()
		rlog.Info("request completed", "status", c.Writer.Status(), "duration", time.Since(start))
	}
}

// observe records the request counter and latency histogram per route
// template, so path parameters do not explode the label space.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}

// requireAuth resolves the bearer access token to an account and stores it
// in the request context. Any failure is the same 401 on the wire; the
// internal reason only reaches the debug log.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			s.unauthorized(c, errMissingBearer)
			return
		}

		acct, err := s.sessions.Authenticate(c.Request.Context(), raw)
		if err != nil {
			if authFailure(err) {
				s.unauthorized(c, err)
			} else {
				s.internalError(c, err)
			}
			return
		}

		c.Set(accountKey, acct)
		c.Next()
	}
}

// rateLimit asks the admission gate before the handler runs. A full window
// is a 429 with a Retry-After hint; a broken counter store fails closed.
func (s *Server) rateLimit(rule admission.Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.Request.Method + ":" + c.FullPath()

		err := s.gate.Admit(c.Request.Context(), route, s.limitIdentity(c, rule.Key), rule)
		var limited *admission.RateLimitedError
		switch {
		case err == nil:
			c.Next()
		case errors.As(err, &limited):
			s.metrics.RateLimited(route)
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(limited.RetryAfter)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "rate limit exceeded, retry later"})
		default:
			s.log.Error("admission counter unavailable", "route", route, "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "service unavailable"})
		}
	}
}

// limitIdentity picks the window dimension for a rule. Account-keyed rules
// fall back to the client address on routes that run before authentication.
func (s *Server) limitIdentity(c *gin.Context, key admission.KeyStrategy) string {
	switch key {
	case admission.KeyAccount:
		if acct := currentAccount(c); acct != nil {
			return acct.Email
		}
		return c.ClientIP()
	case admission.KeyGlobal:
		return "global"
	default:
		return c.ClientIP()
	}
}

// retryAfterSeconds rounds up so a client honoring the header never retries
// into the same window.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	raw := value[len(bearer):]
	if raw == "" {
		return "", false
	}

	return raw, true
}

// currentAccount returns the account resolved by requireAuth, or nil on
// routes that run without it.
func currentAccount(c *gin.Context) *store.Account {
	v, ok := c.Get(accountKey)
	if !ok {
		return nil
	}
	acct, ok := v.(*store.Account)
	if !ok {
		return nil
	}
	return acct
}

// authFailure reports whether err is a per-request authentication outcome
// rather than an infrastructure fault. Store and transport errors must stay
// 500s; collapsing them into 401 would hide outages as auth noise.
func authFailure(err error) bool {
	for _, known := range []error{
		token.ErrMalformed,
		token.ErrInvalidSignature,
		token.ErrExpired,
		token.ErrWrongScope,
		session.ErrInvalidCredentials,
		session.ErrNotConfirmed,
		session.ErrRevokedSession,
		session.ErrUnknownAccount,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

func (s *Server) unauthorized(c *gin.Context, err error) {
	// The split between malformed, expired and revoked matters for
	// debugging but must not reach the wire.
	s.log.Debug("request unauthorized", "path", c.Request.URL.Path, "reason", err)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "unauthorized"})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.log.Debug("request rejected", "path", c.Request.URL.Path, "reason", err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid request"})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
}
