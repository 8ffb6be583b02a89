// Package httpapi is the HTTP surface of the address book: the auth
// endpoints backed by the session manager and confirmation service, the
// contact CRUD routes, and the shared middleware chain (CORS, request ids,
// request-scoped logging, admission control, bearer authentication).
//
// Every authentication failure leaves the wire as the same 401 body no
// matter which internal check refused the token. Only admission rejections
// are distinguishable (429 plus Retry-After) so clients can back off.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"

	"github.com/addrbook/addrbook/internal/admission"
	"github.com/addrbook/addrbook/internal/confirm"
	"github.com/addrbook/addrbook/internal/mail"
	"github.com/addrbook/addrbook/internal/metrics"
	"github.com/addrbook/addrbook/internal/password"
	"github.com/addrbook/addrbook/internal/session"
	"github.com/addrbook/addrbook/internal/store"
)

// Config carries the request-facing settings.
type Config struct {
	// PublicBaseURL is the externally reachable origin embedded in
	// confirmation links.
	PublicBaseURL string
	// CORSOrigins lists the browser origins allowed to call the API;
	// "*" allows any.
	CORSOrigins []string

	SignupRule        admission.Rule
	ContactCreateRule admission.Rule
	ResendConfirmRule admission.Rule
}

// Deps are the collaborators behind the HTTP surface. Metrics and Logger
// are optional; everything else is required.
type Deps struct {
	Sessions *session.Manager
	Confirms *confirm.Service
	Gate     *admission.Gate
	Accounts store.Accounts
	Contacts store.Contacts
	Hasher   *password.Hasher
	Sender   mail.Sender
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Server wires the auth core and the contact store into a Gin router.
type Server struct {
	cfg      Config
	log      *slog.Logger
	sessions *session.Manager
	confirms *confirm.Service
	gate     *admission.Gate
	accounts store.Accounts
	contacts store.Contacts
	hasher   *password.Hasher
	sender   mail.Sender
	metrics  *metrics.Metrics
}

func New(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("httpapi: session manager is required")
	case deps.Confirms == nil:
		return nil, errors.New("httpapi: confirmation service is required")
	case deps.Gate == nil:
		return nil, errors.New("httpapi: admission gate is required")
	case deps.Accounts == nil:
		return nil, errors.New("httpapi: account store is required")
	case deps.Contacts == nil:
		return nil, errors.New("httpapi: contact store is required")
	case deps.Hasher == nil:
		return nil, errors.New("httpapi: password hasher is required")
	case deps.Sender == nil:
		return nil, errors.New("httpapi: mail sender is required")
	}
	for name, rule := range map[string]admission.Rule{
		"signup rule":         cfg.SignupRule,
		"contact create rule": cfg.ContactCreateRule,
		"resend confirm rule": cfg.ResendConfirmRule,
	} {
		if err := rule.Validate(); err != nil {
			return nil, errors.Join(errors.New("httpapi: invalid "+name), err)
		}
	}

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		sessions: deps.Sessions,
		confirms: deps.Confirms,
		gate:     deps.Gate,
		accounts: deps.Accounts,
		contacts: deps.Contacts,
		hasher:   deps.Hasher,
		sender:   deps.Sender,
		metrics:  deps.Metrics,
	}, nil
}

// Router builds the Gin engine with the full middleware chain and every
// route. Callers own gin.SetMode; Router never touches global state.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.cors())
	r.Use(requestid.New())
	r.Use(s.requestLogger())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(s.observe())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/signup", s.rateLimit(s.cfg.SignupRule), s.signup)
	auth.POST("/login", s.login)
	auth.GET("/refresh", s.refresh)
	auth.POST("/logout", s.requireAuth(), s.logout)
	auth.GET("/confirm/:token", s.confirmEmail)
	auth.POST("/request-confirm", s.rateLimit(s.cfg.ResendConfirmRule), s.requestConfirm)

	users := api.Group("/users", s.requireAuth())
	users.GET("/me", s.me)

	contacts := api.Group("/contacts", s.requireAuth())
	contacts.GET("", s.listContacts)
	contacts.POST("", s.rateLimit(s.cfg.ContactCreateRule), s.createContact)
	contacts.GET("/find", s.findContacts)
	contacts.GET("/birthdays", s.upcomingBirthdays)
	contacts.GET("/:id", s.getContact)
	contacts.PUT("/:id", s.updateContact)
	contacts.DELETE("/:id", s.deleteContact)

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
