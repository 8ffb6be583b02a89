package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/addrbook/addrbook/internal/gravatar"
	"github.com/addrbook/addrbook/internal/mail"
	"github.com/addrbook/addrbook/internal/session"
	"github.com/addrbook/addrbook/internal/store"
)

// mailTimeout bounds a single confirmation delivery attempt. Delivery runs
// after the response is written, so it needs its own deadline.
const mailTimeout = 30 * time.Second

func (s *Server) signup(c *gin.Context) {
	var form signupForm
	if err := c.ShouldBindJSON(&form); err != nil {
		s.badRequest(c, err)
		return
	}

	hash, err := s.hasher.Hash(form.Password)
	if err != nil {
		s.internalError(c, err)
		return
	}

	acct, err := s.accounts.Create(c.Request.Context(), &store.Account{
		Username:     form.Username,
		Email:        form.Email,
		PasswordHash: hash,
		Avatar:       gravatar.URL(form.Email),
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateEmail):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"message": "account already exists"})
		return
	default:
		s.internalError(c, err)
		return
	}

	go s.sendConfirmation(acct.Email, acct.Username)

	c.JSON(http.StatusCreated, gin.H{
		"user":   viewAccount(acct),
		"detail": "account created, check your email for a confirmation link",
	})
}

func (s *Server) login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBindJSON(&form); err != nil {
		s.badRequest(c, err)
		return
	}

	pair, err := s.sessions.Login(c.Request.Context(), form.Email, form.Password)
	switch {
	case err == nil:
		s.metrics.Auth("login", "success")
		c.JSON(http.StatusOK, tokenPairView{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			TokenType:    "bearer",
		})
	case errors.Is(err, session.ErrNotConfirmed):
		// Reached only with valid credentials, so naming the reason leaks
		// nothing a guesser did not already prove.
		s.metrics.Auth("login", "unconfirmed")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "email not confirmed"})
	case errors.Is(err, session.ErrInvalidCredentials):
		s.metrics.Auth("login", "invalid_credentials")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
	default:
		s.metrics.Auth("login", "error")
		s.internalError(c, err)
	}
}

// refresh exchanges the bearer refresh token for a fresh pair. A token that
// was rotated away, revoked, or lost a concurrent refresh gets the same 401
// as a malformed one.
func (s *Server) refresh(c *gin.Context) {
	raw, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		s.metrics.Auth("refresh", "unauthorized")
		s.unauthorized(c, errMissingBearer)
		return
	}

	pair, err := s.sessions.Refresh(c.Request.Context(), raw)
	switch {
	case err == nil:
		s.metrics.Auth("refresh", "success")
		c.JSON(http.StatusOK, tokenPairView{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			TokenType:    "bearer",
		})
	case authFailure(err):
		s.metrics.Auth("refresh", "unauthorized")
		s.unauthorized(c, err)
	default:
		s.metrics.Auth("refresh", "error")
		s.internalError(c, err)
	}
}

func (s *Server) logout(c *gin.Context) {
	acct := currentAccount(c)

	if err := s.sessions.Revoke(c.Request.Context(), acct.Email); err != nil {
		if authFailure(err) {
			s.unauthorized(c, err)
		} else {
			s.internalError(c, err)
		}
		return
	}

	s.metrics.Auth("logout", "success")
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (s *Server) confirmEmail(c *gin.Context) {
	email, already, err := s.confirms.Consume(c.Request.Context(), c.Param("token"))
	switch {
	case err == nil && already:
		s.metrics.Auth("confirm", "already")
		c.JSON(http.StatusOK, gin.H{"message": "your email is already confirmed"})
	case err == nil:
		s.metrics.Auth("confirm", "confirmed")
		s.log.Info("email confirmed", "email", email)
		c.JSON(http.StatusOK, gin.H{"message": "email confirmed"})
	case errors.Is(err, store.ErrAccountNotFound):
		s.metrics.Auth("confirm", "unknown_account")
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "account not found"})
	case authFailure(err):
		s.metrics.Auth("confirm", "invalid_token")
		s.log.Debug("confirmation token rejected", "reason", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid confirmation token"})
	default:
		s.internalError(c, err)
	}
}

// requestConfirm re-sends the confirmation link. The response is the same
// whether the address is registered, unconfirmed, or unknown, so the
// endpoint cannot be used to probe for accounts.
func (s *Server) requestConfirm(c *gin.Context) {
	var form requestConfirmForm
	if err := c.ShouldBindJSON(&form); err != nil {
		s.badRequest(c, err)
		return
	}

	acct, err := s.accounts.FindByEmail(c.Request.Context(), form.Email)
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		s.log.Debug("confirmation requested for unknown address")
	case err != nil:
		s.internalError(c, err)
		return
	case acct.Confirmed:
		s.log.Debug("confirmation requested for confirmed account")
	default:
		go s.sendConfirmation(acct.Email, acct.Username)
	}

	c.JSON(http.StatusOK, gin.H{"message": "check your email for a confirmation link"})
}

// sendConfirmation mints a confirmation token and delivers the mail. It runs
// detached from the request; failures are logged and the client retries via
// request-confirm.
func (s *Server) sendConfirmation(email, username string) {
	tok, err := s.confirms.Issue(email)
	if err != nil {
		s.log.Error("issue confirmation token failed", "error", err)
		return
	}

	msg, err := mail.Confirmation(email, username, s.cfg.PublicBaseURL, tok)
	if err != nil {
		s.log.Error("render confirmation mail failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
	defer cancel()
	if err := s.sender.Send(ctx, msg); err != nil {
		s.log.Error("confirmation mail delivery failed", "to", email, "error", err)
	}
}
