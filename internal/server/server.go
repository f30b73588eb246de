// Package server wires the application together: it opens the backends,
// builds the services and handlers, mounts the routes and runs the HTTP
// server until a shutdown signal arrives.
//
// DEPENDENCY FLOW:
//
//	config.Config
//	  → repository.Store (mongo or sqlite), assets.Uploader (s3 or local),
//	    cache.Cache (optional), auth.GitHubProvider (optional)
//	  → service.SessionIssuer, service.AccountService, service.ChannelService
//	  → handler.AccountHandler, handler.ChannelHandler, handler.GitHubHandler
//	  → routes
//
// This is the composition root: nothing below this package constructs its
// own dependencies.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/channelhub/internal/apperror"
	"github.com/sakif/channelhub/internal/assets"
	"github.com/sakif/channelhub/internal/auth"
	"github.com/sakif/channelhub/internal/cache"
	"github.com/sakif/channelhub/internal/config"
	"github.com/sakif/channelhub/internal/handler"
	"github.com/sakif/channelhub/internal/middleware"
	"github.com/sakif/channelhub/internal/repository"
	mongoRepo "github.com/sakif/channelhub/internal/repository/mongo"
	sqliteRepo "github.com/sakif/channelhub/internal/repository/sqlite"
	"github.com/sakif/channelhub/internal/response"
	"github.com/sakif/channelhub/internal/service"
)

// Deps are the backends the server runs on. New opens them from config;
// tests pass their own to NewWithDeps.
type Deps struct {
	Store    repository.Store
	Uploader assets.Uploader
	Cache    *cache.Cache                // nil disables the channel profile cache
	GitHub   handler.GitHubAuthenticator // nil leaves GitHub sign-in unmounted
	// Passwords defaults to bcrypt at the default cost.
	Passwords *auth.PasswordService
}

// Server owns the router and the backends. The store and the cache are
// closed when Start returns.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	store  repository.Store
	cache  *cache.Cache
}

// New opens every backend the config selects and builds the server.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	uploader, err := openUploader(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	deps := Deps{Store: store, Uploader: uploader}

	if cfg.RedisEnabled() {
		c := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := c.Ping(pingCtx); err != nil {
			// The cache falls through to the store on every error, so a
			// Redis outage at boot is not fatal.
			logger.Warn("redis unreachable, channel profiles will not be cached",
				slog.String("addr", cfg.Redis.Addr),
				slog.String("error", err.Error()),
			)
		}
		cancel()
		deps.Cache = c
	}

	if cfg.GitHubEnabled() {
		deps.GitHub = auth.NewGitHubProvider(auth.GitHubConfig{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			CallbackURL:  cfg.GitHub.CallbackURL,
		})
	} else {
		logger.Info("GITHUB_CLIENT_ID not set, GitHub sign-in is disabled")
	}

	s, err := NewWithDeps(cfg, logger, deps)
	if err != nil {
		store.Close()
		if deps.Cache != nil {
			deps.Cache.Close()
		}
		return nil, err
	}
	return s, nil
}

// NewWithDeps builds the server on already-open backends.
func NewWithDeps(cfg *config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Uploader == nil {
		return nil, errors.New("server: store and uploader are required")
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  deps.Store,
		cache:  deps.Cache,
	}

	if err := s.setupRoutes(deps); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return db, nil
	case "mongo":
		st, err := mongoRepo.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("opening mongo store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openUploader(ctx context.Context, cfg *config.Config) (assets.Uploader, error) {
	switch cfg.Assets.Driver {
	case "s3":
		up, err := assets.NewS3Store(ctx, assets.S3Config{
			Bucket:        cfg.S3.Bucket,
			Region:        cfg.S3.Region,
			Endpoint:      cfg.S3.Endpoint,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			PublicBaseURL: cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("opening s3 asset store: %w", err)
		}
		return up, nil
	case "local":
		up, err := assets.NewLocalStore(cfg.Assets.LocalDir, cfg.Assets.LocalBaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening local asset store: %w", err)
		}
		return up, nil
	default:
		return nil, fmt.Errorf("unknown asset driver %q", cfg.Assets.Driver)
	}
}

// setupRoutes mounts middleware and routes.
//
// ROUTES (all under /api/v1/users unless noted):
//
//	POST  /register                 multipart, rate limited
//	POST  /login                    rate limited
//	POST  /refresh-token            rate limited
//	POST  /logout                   auth
//	POST  /change-password          auth, rate limited
//	GET   /current-user             auth
//	PATCH /account                  auth
//	PATCH /avatar                   auth, multipart
//	PATCH /cover-image              auth, multipart
//	GET   /channel/{username}       optional auth
//	GET   /watch-history            auth
//	POST  /history/{videoID}        auth
//	GET   /auth/github/login        when GitHub is configured
//	GET   /auth/github/callback     when GitHub is configured
//	GET   /healthz                  (root)
//	GET   /metrics                  (root)
//	GET   /uploads/*                (root, local asset driver only)
//
// MIDDLEWARE ORDER: the logger and metrics sit outside the recoverer so a
// recovered panic is logged and counted as the 500 it became. RealIP is only
// mounted with trust_proxy; without it the rate limiter keys on the socket
// address.
func (s *Server) setupRoutes(deps Deps) error {
	cfg := s.config

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     cfg.AccessTokenExpiry,
		RefreshTTL:    cfg.RefreshTokenExpiry,
	})
	if err != nil {
		return err
	}

	passwords := deps.Passwords
	if passwords == nil {
		passwords = auth.NewPasswordService()
	}

	sessions := service.NewSessionIssuer(deps.Store, tokens, s.logger)
	accounts := service.NewAccountService(deps.Store, sessions, passwords, deps.Uploader, s.logger)
	channels := service.NewChannelService(deps.Store, deps.Store, deps.Store, s.logger)
	if deps.Cache != nil {
		channels = channels.WithCache(deps.Cache, cfg.Redis.ChannelTTL)
		accounts = accounts.WithCache(deps.Cache)
	}

	cookies := handler.CookieConfig{
		Secure:     cfg.CookieSecure,
		AccessTTL:  tokens.AccessTTL(),
		RefreshTTL: tokens.RefreshTTL(),
	}
	limits := handler.Limits{
		JSONBody:        cfg.JSONBodyLimit,
		MultipartBody:   2*cfg.UploadMaxBytes + cfg.MultipartMaxMemory,
		MultipartMemory: cfg.MultipartMaxMemory,
	}

	accountHandler := handler.NewAccountHandler(
		accounts,
		assets.NewStager(cfg.Assets.TempDir, cfg.UploadMaxBytes),
		cookies, limits, s.logger,
	)
	channelHandler := handler.NewChannelHandler(channels, s.logger)

	checks := map[string]handler.Pinger{"store": deps.Store}
	if deps.Cache != nil {
		checks["cache"] = deps.Cache
	}
	healthHandler := handler.NewHealthHandler(checks, s.logger)

	limiter := middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	h := func(fn handler.HandlerFunc) http.HandlerFunc { return handler.Handle(s.logger, fn) }

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	if cfg.TrustProxy {
		s.router.Use(chimiddleware.RealIP)
	}
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)
	s.router.Use(middleware.Recoverer(s.logger))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, nil, apperror.NotFoundMessage("route not found"))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusMethodNotAllowed, response.ErrorEnvelope{
			StatusCode: http.StatusMethodNotAllowed,
			Message:    "method not allowed",
			Errors:     []string{},
		})
	})

	// === Operational ===
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", middleware.MetricsHandler())

	if cfg.Assets.Driver == "local" && cfg.Assets.LocalDir != "" {
		fileServer := http.FileServer(http.Dir(cfg.Assets.LocalDir))
		s.router.Handle("/uploads/*", http.StripPrefix("/uploads/", fileServer))
	}

	// === API ===
	s.router.Route("/api/v1/users", func(r chi.Router) {
		limited := r.With(limiter.Handler)
		limited.Post("/register", h(accountHandler.HandleRegister))
		limited.Post("/login", h(accountHandler.HandleLogin))
		limited.Post("/refresh-token", h(accountHandler.HandleRefresh))

		r.With(auth.OptionalAuth(tokens)).Get("/channel/{username}", h(channelHandler.HandleChannelProfile))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Post("/logout", h(accountHandler.HandleLogout))
			r.With(limiter.Handler).Post("/change-password", h(accountHandler.HandleChangePassword))
			r.Get("/current-user", h(accountHandler.HandleCurrentUser))
			r.Patch("/account", h(accountHandler.HandleUpdateAccount))
			r.Patch("/avatar", h(accountHandler.HandleUpdateAvatar))
			r.Patch("/cover-image", h(accountHandler.HandleUpdateCoverImage))
			r.Get("/watch-history", h(channelHandler.HandleWatchHistory))
			r.Post("/history/{videoID}", h(channelHandler.HandleRecordView))
		})

		if deps.GitHub != nil {
			// The browser comes back to the frontend once sign-in finishes.
			gh := handler.NewGitHubHandler(deps.GitHub, accounts, cookies, cfg.CORSOrigin, s.logger)
			limited.Get("/auth/github/login", gh.HandleLogin)
			r.Get("/auth/github/callback", h(gh.HandleCallback))
		}
	})

	return nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store and the cache.
func (s *Server) Close() error {
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

// Start runs the HTTP server until SIGINT or SIGTERM, then drains in-flight
// requests for up to 30 seconds and closes the backends.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing backends", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("store", s.config.Store.Driver),
			slog.String("assets", s.config.Assets.Driver),
			slog.Bool("cache", s.cache != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
