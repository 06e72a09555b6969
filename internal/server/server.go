// Package server wires the engine, catalog, fetch cache and metrics behind
// the portal's HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/joeblew999/plat-portal/internal/api"
	"github.com/joeblew999/plat-portal/internal/api/stream"
	"github.com/joeblew999/plat-portal/internal/catalog"
	"github.com/joeblew999/plat-portal/internal/config"
	"github.com/joeblew999/plat-portal/internal/fetch"
	"github.com/joeblew999/plat-portal/internal/humastar"
	"github.com/joeblew999/plat-portal/internal/metrics"
	"github.com/joeblew999/plat-portal/internal/middleware"
	"github.com/joeblew999/plat-portal/internal/scene"
	"github.com/joeblew999/plat-portal/internal/service"
	"github.com/joeblew999/plat-portal/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	config.Config
}

// Server is the portal HTTP server.
type Server struct {
	config   Config
	router   chi.Router
	humaAPI  huma.API
	logger   *slog.Logger
	engine   *service.Engine
	scene    *scene.Scene
	catalog  *catalog.Store
	redis    *fetch.RedisStore
	metrics  *metrics.Provider
	renderer *templates.Renderer
}

// New builds the server. A Redis or catalog that cannot be opened is logged
// and left disabled; the engine runs without them.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	renderer, err := templates.New()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		logger:   logger,
		metrics:  metrics.Init(metrics.BuildInfo{Version: cfg.Version}),
		renderer: renderer,
	}
	observer := metrics.NewEngine(s.metrics.Registerer())

	if cfg.Fetch.RedisAddr != "" {
		store, err := fetch.NewRedisStore(ctx, cfg.Fetch.RedisAddr, cfg.Fetch.RedisPrefix)
		if err != nil {
			logger.Warn("shared fetch cache disabled", "addr", cfg.Fetch.RedisAddr, "err", err)
		} else {
			s.redis = store
		}
	}
	fetcher := fetch.New(fetch.Options{
		Client:    fetch.NewOutbound(cfg.Fetch.Timeout),
		LRUSize:   cfg.Fetch.LRUSize,
		TTL:       cfg.Fetch.CacheTTL,
		MaxBytes:  cfg.Fetch.MaxBytes,
		Redis:     s.redis,
		OpTimeout: cfg.Fetch.OpTimeout,
		Observer:  observer,
		Logger:    logger,
	})

	s.catalog, err = catalog.Open(ctx, catalog.Config{
		Path:       cfg.Catalog.Path,
		Extensions: cfg.Catalog.Extensions,
		Logger:     logger,
	})
	if err != nil {
		logger.Warn("catalog disabled", "err", err)
		s.catalog = nil
	} else if cfg.Catalog.Seed != "" {
		if _, err := s.catalog.Seed(ctx, cfg.Catalog.Seed); err != nil {
			logger.Warn("catalog seed failed", "file", cfg.Catalog.Seed, "err", err)
		}
	}

	s.scene = scene.New(scene.WithPickTolerance(cfg.Click.PickTolerance))
	s.engine = service.NewEngine(service.EngineOptions{
		Renderer:      s.scene,
		Fetcher:       fetcher,
		Logger:        logger,
		Observer:      observer,
		Session:       service.NewSession(cfg.DataDir),
		ClickMargin:   cfg.Click.Margin,
		DragThreshold: cfg.Click.DragThreshold,
	})

	s.routes()
	return s, nil
}

// NewAPI creates the Huma API on r with the portal's OpenAPI metadata and
// link transformer.
func NewAPI(r chi.Router, host string, port int, version string, links *humastar.LinkSet) huma.API {
	humaConfig := huma.DefaultConfig("plat-portal API", version)
	humaConfig.Info.Description = "Map portal API: layer lifecycle, load progress, click resolution and catalog search."
	if host != "" {
		humaConfig.Servers = []*huma.Server{
			{URL: fmt.Sprintf("http://%s:%d", host, port), Description: "Local server"},
		}
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, links.Transformer())
	return humachi.New(r, humaConfig)
}

func (s *Server) routes() {
	s.router.Use(middleware.Recover(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.CORS())

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler())
	}

	links := humastar.NewLinkSet()
	s.humaAPI = NewAPI(s.router, s.config.Host, s.config.Port, s.config.Version, links)
	api.RegisterRoutes(s.humaAPI, &api.Services{
		Engine:  s.engine,
		Catalog: s.catalog,
		Scene:   s.scene,
		Info: api.InfoBody{
			Name:          "plat-portal",
			Version:       s.config.Version,
			DataDir:       s.config.DataDir,
			SharedCache:   s.redis != nil,
			Loaders:       service.LoaderPriority(),
			ClickMargin:   s.config.Click.Margin,
			DragThreshold: s.config.Click.DragThreshold,
		},
	})
	stream.NewHandler(s.engine, s.renderer).RegisterRoutes(s.humaAPI)
	links.Discover(s.humaAPI)

	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		for _, l := range links.For("/health") {
			w.Header().Add("Link", l)
		}
		http.Redirect(w, r, "/docs", http.StatusFound)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// OpenAPI returns the API description.
func (s *Server) OpenAPI() *huma.OpenAPI { return s.humaAPI.OpenAPI() }

// Engine exposes the engine for the CLI.
func (s *Server) Engine() *service.Engine { return s.engine }

// Run restores the saved session and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	n, err := s.engine.Restore(ctx)
	if err != nil {
		s.logger.Warn("restore session", "err", err)
	} else if n > 0 {
		s.logger.Info("session restored", "layers", n)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the catalog and the shared cache.
func (s *Server) Close() error {
	var errs []error
	if s.catalog != nil {
		errs = append(errs, s.catalog.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}
