/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/voxqueue/internal/api"
	"github.com/friendsincode/voxqueue/internal/assistant"
	"github.com/friendsincode/voxqueue/internal/autoend"
	"github.com/friendsincode/voxqueue/internal/cache"
	"github.com/friendsincode/voxqueue/internal/config"
	"github.com/friendsincode/voxqueue/internal/db"
	"github.com/friendsincode/voxqueue/internal/events"
	"github.com/friendsincode/voxqueue/internal/logbuffer"
	"github.com/friendsincode/voxqueue/internal/media"
	"github.com/friendsincode/voxqueue/internal/notify"
	"github.com/friendsincode/voxqueue/internal/notify/discord"
	"github.com/friendsincode/voxqueue/internal/orchestrator"
	"github.com/friendsincode/voxqueue/internal/queue"
	"github.com/friendsincode/voxqueue/internal/settings"
	"github.com/friendsincode/voxqueue/internal/telemetry"
	"github.com/friendsincode/voxqueue/internal/transport/natsengine"
)

const dbMetricsInterval = 30 * time.Second

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db       *gorm.DB
	cache    *cache.Cache
	settings *settings.Store
	nc       *nats.Conn
	pool     *assistant.Pool
	ctrl     *orchestrator.Controller
	bus      *events.Bus
	api      *api.API
	logBuf   *logbuffer.Buffer

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	sweeper  *orchestrator.Sweeper
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("voxqueue-api"))
	router.Use(telemetry.MetricsMiddleware)
	// The event stream is long-lived; everything else gets a request deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
		logBuf: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	if err := srv.startBackgroundWorkers(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Handlers manage their own deadlines; the event stream must not be cut.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	c, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	s.cache = c
	s.DeferClose(c.Close)

	s.settings = settings.NewStore(database, c, settings.Defaults{
		AutoEndEnabled:   s.cfg.AutoEndDefault,
		CleanupDownloads: s.cfg.AutoCleanupDownloads,
	}, s.logger)

	if err := os.MkdirAll(s.cfg.MediaRoot, 0o755); err != nil {
		return fmt.Errorf("create media root: %w", err)
	}

	nc, err := nats.Connect(s.cfg.NATSURL,
		nats.Name("voxqueue"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", s.cfg.NATSURL, err)
	}
	s.nc = nc
	s.DeferClose(func() error {
		nc.Close()
		return nil
	})

	dial := natsengine.Dialer(nc, s.cfg.EngineSubjectPrefix, s.cfg.EngineTimeout, s.logger)
	pool, err := assistant.NewPool(s.cfg.Assistants, dial, s.logger)
	if err != nil {
		return err
	}
	s.pool = pool

	gateway, membership, err := s.initGateway()
	if err != nil {
		return err
	}

	templates := notify.DefaultTemplates()
	if s.cfg.TemplatesPath != "" {
		templates, err = notify.LoadTemplates(s.cfg.TemplatesPath)
		if err != nil {
			return err
		}
	}

	deps := orchestrator.Deps{
		Pool:       pool,
		Queue:      queue.NewStore(),
		AutoEnd:    autoend.NewRegistry(s.cfg.AutoEndGrace, time.Now),
		Settings:   s.settings,
		Cleaner:    media.NewCleaner(s.cfg.MediaRoot),
		Gateway:    gateway,
		Membership: membership,
		Templates:  templates,
		Bus:        s.bus,
	}
	if s.cfg.ResolverURL != "" {
		deps.Resolver = media.NewHTTPResolver(s.cfg.ResolverURL, 0, s.logger)
	} else {
		s.logger.Warn().Msg("no resolver configured; live and pending-download requests will fail")
	}

	s3Client, err := media.NewS3Client(context.Background(), media.S3Config{
		AccessKeyID:     s.cfg.S3AccessKeyID,
		SecretAccessKey: s.cfg.S3SecretAccessKey,
		Region:          s.cfg.S3Region,
		Endpoint:        s.cfg.S3Endpoint,
		UsePathStyle:    s.cfg.S3UsePathStyle,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("s3 client unavailable; s3:// references will fail")
	}
	deps.Downloader = media.NewFetchDownloader(s.cfg.MediaRoot, s3Client, s.logger)

	ctrl, err := orchestrator.New(deps, orchestrator.Options{RemediationDelay: s.cfg.RemediationDelay}, s.logger)
	if err != nil {
		return err
	}
	s.ctrl = ctrl

	s.api = api.New(ctrl, pool, s.settings, s.bus, []byte(s.cfg.JWTSigningKey), s.logger)
	s.api.SetLogBuffer(s.logBuf)
	return nil
}

// initGateway picks the Discord gateway when a token is configured and falls
// back to logging notifications.
func (s *Server) initGateway() (notify.Gateway, notify.Membership, error) {
	if s.cfg.DiscordToken == "" {
		g := notify.NewLogGateway(s.logger)
		return g, g, nil
	}

	g, err := discord.New(s.cfg.DiscordToken, s.logger)
	if err != nil {
		return nil, nil, err
	}
	if err := g.Connect(); err != nil {
		return nil, nil, fmt.Errorf("connect discord: %w", err)
	}
	s.DeferClose(g.Close)
	return g, g, nil
}

// HTTPServer returns the configured http.Server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases resources in reverse acquisition order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers fn to run on Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	err := s.pool.Start(startCtx)
	startCancel()
	if err != nil {
		return fmt.Errorf("start assistants: %w", err)
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.ctrl.Run(ctx)
	}()

	sweeper, err := s.ctrl.StartSweeper(ctx, s.cfg.AutoEndSweep)
	if err != nil {
		return err
	}
	s.sweeper = sweeper

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runDBMetrics(ctx)
	}()
	return nil
}

func (s *Server) runDBMetrics(ctx context.Context) {
	ticker := time.NewTicker(dbMetricsInterval)
	defer ticker.Stop()
	for {
		db.UpdateConnectionMetrics(s.db)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
		s.sweeper = nil
	}

	// Stopping the pool closes its event stream, which also ends Run.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := s.pool.StopAll(ctx); err != nil {
		s.logger.Error().Err(err).Msg("stop assistants")
	}
	cancel()

	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","assistants":%d,"sessions":%d}`, len(s.pool.Slots()), len(s.ctrl.Sessions()))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
