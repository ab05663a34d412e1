// Package main запускает HTTP-сервер сервиса учёта ваучеров.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/voucherhub/internal/config"
	"github.com/mmeshcher/voucherhub/internal/handler"
	"github.com/mmeshcher/voucherhub/internal/middleware"
	"github.com/mmeshcher/voucherhub/internal/model"
	"github.com/mmeshcher/voucherhub/internal/repository"
	"github.com/mmeshcher/voucherhub/internal/service"
	"github.com/mmeshcher/voucherhub/internal/session"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	store, err := openStore(cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	svc := service.NewService(store, logger)
	defer svc.Close()

	sessions, closeSessions, err := openSessions(cfg)
	if err != nil {
		sugar.Fatalw("session store initialization error", "error", err.Error())
	}
	defer closeSessions()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SeedOwnerUsername != "" {
		owner, err := svc.EnsureUser(ctx, service.UserInput{
			Username: cfg.SeedOwnerUsername,
			Password: cfg.SeedOwnerPassword,
			FullName: cfg.SeedOwnerUsername,
			Role:     model.RoleOwner,
		})
		if err != nil {
			sugar.Fatalw("seed owner error", "error", err.Error())
		}
		sugar.Infow("owner account ready", "username", owner.Username, "id", owner.ID)
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.SessionSecret, sessions, svc, middleware.AuthMode(cfg.AuthMode))
	authMiddleware.SetLogger(logger)
	if cfg.AuthMode == config.AuthModeBypass {
		devUsers, err := ensureDevUsers(ctx, svc)
		if err != nil {
			sugar.Fatalw("dev users initialization error", "error", err.Error())
		}
		authMiddleware.SetDevUsers(devUsers)
		sugar.Warnw("auth bypass enabled: anonymous requests act as dev users")
	}

	h := handler.NewHandler(svc, logger, authMiddleware, cfg.CORSAllowedOrigins)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting voucherhub server", "addr", cfg.RunAddress, "authMode", cfg.AuthMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// openStore выбирает хранилище: PostgreSQL при заданном DATABASE_URI, иначе память процесса.
func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.DatabaseURI == "" {
		return repository.NewMemoryStore(), nil
	}
	return repository.NewPostgresStore(cfg.DatabaseURI)
}

func openSessions(cfg *config.Config) (session.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryStore(cfg.SessionTTL), func() {}, nil
	}

	rs, err := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

// ensureDevUsers создаёт по одному отладочному пользователю на каждую роль.
func ensureDevUsers(ctx context.Context, svc *service.Service) (map[model.Role]*model.User, error) {
	users := make(map[model.Role]*model.User, 3)
	for _, role := range []model.Role{model.RoleOwner, model.RoleEmployee, model.RoleCustomer} {
		u, err := svc.EnsureUser(ctx, service.UserInput{
			Username: "dev-" + string(role),
			Password: "dev-" + string(role) + "-password",
			FullName: "Dev " + string(role),
			Role:     role,
		})
		if err != nil {
			return nil, fmt.Errorf("ensure dev %s: %w", role, err)
		}
		users[role] = u
	}
	return users, nil
}
