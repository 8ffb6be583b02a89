// addrbookd serves the address book API: account signup and confirmation,
// session issue/refresh/revoke, and the contact CRUD routes behind them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/addrbook/addrbook/internal/admission"
	"github.com/addrbook/addrbook/internal/config"
	"github.com/addrbook/addrbook/internal/confirm"
	"github.com/addrbook/addrbook/internal/httpapi"
	"github.com/addrbook/addrbook/internal/mail"
	"github.com/addrbook/addrbook/internal/metrics"
	"github.com/addrbook/addrbook/internal/password"
	"github.com/addrbook/addrbook/internal/session"
	"github.com/addrbook/addrbook/internal/store"
	"github.com/addrbook/addrbook/internal/token"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("addrbookd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var logger *slog.Logger
	if cfg.Prod() {
		gin.SetMode(gin.ReleaseMode)
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	codec, err := token.New(token.Config{
		Secret:    []byte(cfg.TokenSecret),
		Algorithm: cfg.TokenAlgorithm,
		Issuer:    cfg.TokenIssuer,
	})
	if err != nil {
		return err
	}

	hasher, err := password.NewHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}

	accounts := store.NewCachedAccounts(store.NewPostgresAccounts(db), rdb, cfg.AccountCacheTTL)
	contacts := store.NewPostgresContacts(db)

	sessions, err := session.New(codec, accounts, hasher, session.Config{
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		return err
	}

	confirms, err := confirm.New(codec, accounts, cfg.ConfirmTTL)
	if err != nil {
		return err
	}

	gate, err := admission.NewGate(admission.NewRedisCounter(rdb))
	if err != nil {
		return err
	}

	var sender mail.Sender
	if cfg.SMTPHost != "" {
		sender = &mail.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}
	} else {
		logger.Warn("no SMTP host configured, confirmation mail goes to the log")
		sender = mail.DevSender{}
	}

	srv, err := httpapi.New(httpapi.Config{
		PublicBaseURL:     cfg.PublicBaseURL,
		CORSOrigins:       cfg.CORSOrigins,
		SignupRule:        cfg.SignupRule(),
		ContactCreateRule: cfg.ContactCreateRule(),
		ResendConfirmRule: cfg.ResendConfirmRule(),
	}, httpapi.Deps{
		Sessions: sessions,
		Confirms: confirms,
		Gate:     gate,
		Accounts: accounts,
		Contacts: contacts,
		Hasher:   hasher,
		Sender:   sender,
		Metrics:  metrics.New(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "env", cfg.Env)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
