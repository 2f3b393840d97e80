package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tenant_schema_guard/internal/auth"
	"tenant_schema_guard/internal/metrics"
	"tenant_schema_guard/internal/rbac"
)

type Server struct {
	addr          string
	logger        requestLogger
	metrics       *metrics.Collector
	health        HealthHandler
	authn         auth.Authenticator
	authHandler   *AuthHandler
	tenantHandler *TenantHandler
	planHandler   *PlanHandler
}

type requestLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type Handlers struct {
	Health  HealthHandler
	Auth    *AuthHandler
	Tenants *TenantHandler
	Plans   *PlanHandler
}

func New(addr string, logger requestLogger, m *metrics.Collector, authn auth.Authenticator, h Handlers) *Server {
	return &Server{
		addr:          addr,
		logger:        logger,
		metrics:       m,
		health:        h.Health,
		authn:         authn,
		authHandler:   h.Auth,
		tenantHandler: h.Tenants,
		planHandler:   h.Plans,
	}
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(4 * time.Minute))
	r.Use(RequestLogger(s.logger, s.metrics))

	authMiddleware := NewAuthMiddleware(s.authn, s.logger)
	auditor := authMiddleware.RequireRole(rbac.RoleAuditor)
	operator := authMiddleware.RequireRole(rbac.RoleOperator)
	admin := authMiddleware.RequireRole(rbac.RoleAdmin)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/health", s.health)

		api.Get("/auth/oidc/start", s.authHandler.OIDCStart)
		api.Get("/auth/oidc/callback", s.authHandler.OIDCCallback)

		// Authenticated read-only routes
		api.Group(func(authenticated chi.Router) {
			authenticated.Use(authMiddleware.RequireAuth)
			authenticated.Use(auditor)

			authenticated.Get("/me", s.authHandler.Me)
			authenticated.Get("/tenants", s.tenantHandler.List)
			authenticated.Get("/tenants/{tenantID}", s.tenantHandler.Get)
			authenticated.Get("/tenants/{tenantID}/plans/{planID}", s.planHandler.Get)
			authenticated.Get("/tenants/{tenantID}/history", s.planHandler.History)
		})

		// Authenticated state-changing routes (CSRF protected)
		api.Group(func(authenticated chi.Router) {
			authenticated.Use(authMiddleware.RequireAuth)
			authenticated.Use(CSRFMiddleware)

			authenticated.Post("/auth/logout", s.authHandler.Logout)

			authenticated.With(admin).Post("/tenants", s.tenantHandler.Create)
			authenticated.Route("/tenants/{tenantID}", func(tr chi.Router) {
				tr.With(admin).Post("/disable", s.tenantHandler.Disable)
				tr.With(operator).Post("/test-connection", s.tenantHandler.TestConnection)
				tr.With(operator).Post("/plans", s.planHandler.Create)
				tr.With(operator).Post("/plans/{planID}/preflight", s.planHandler.Preflight)
				tr.With(operator).Post("/plans/{planID}/apply-safe", s.planHandler.ApplySafe)
				tr.With(admin).Post("/plans/{planID}/apply-destructive", s.planHandler.ApplyDestructive)
			})
		})
	})

	return r
}
