package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tenant_schema_guard/internal/app"
	"tenant_schema_guard/internal/audit"
	"tenant_schema_guard/internal/auth"
	"tenant_schema_guard/internal/config"
	httpserver "tenant_schema_guard/internal/http"
	"tenant_schema_guard/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	a, err := app.Open(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close(ctx)

	auditSink := audit.NewPGSink(a.Pool, logger)
	_ = auditSink.Record(ctx, audit.Event{
		Action:     audit.ActionServerStarted,
		EntityType: "system",
		Payload:    map[string]any{"http_addr": cfg.HTTPAddress, "reference_version": cfg.Reference.Version},
	})

	sessions := auth.NewSessionManager(cfg.SecretKeyBytes)
	roles := auth.NewRoleMapper(cfg.OIDC.AdminEmails, cfg.OIDC.OperatorEmails)

	authenticators := []auth.Authenticator{auth.NewSessionAuthenticator(sessions, roles)}
	authHandler := httpserver.NewAuthHandler(logger, nil, sessions, roles, auditSink)
	if cfg.DevAuth {
		logger.Info("dev header authentication enabled")
		authenticators = append(authenticators, auth.NewDevHeaderAuthenticator(true))
	}
	if cfg.OIDC.ClientID != "" {
		oidcProvider, err := auth.NewOIDCProvider(ctx, cfg.OIDC)
		if err != nil {
			logger.Error("oidc provider init failed", "error", err)
			os.Exit(1)
		}
		authHandler = httpserver.NewAuthHandler(logger, oidcProvider, sessions, roles, auditSink)
	}

	ref := a.Engine.Reference()
	server := httpserver.New(cfg.HTTPAddress, logger, a.Metrics, auth.NewMultiAuthenticator(authenticators...), httpserver.Handlers{
		Health: httpserver.HealthHandler{
			DB:               a.Pool,
			ReferenceVersion: ref.Version,
			ReferenceHash:    ref.Hash,
		},
		Auth:    authHandler,
		Tenants: httpserver.NewTenantHandler(logger, a.Store, a.Engine, cfg.Bootstrap, auditSink),
		Plans:   httpserver.NewPlanHandler(logger, a.Engine),
	})

	if err := server.Start(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}
