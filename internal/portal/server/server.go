// Package server exposes the session manager over a JSON HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/activity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/config"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/identity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/kv"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/metrics"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/session"
	"go.uber.org/zap"
)

// Version info injected at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// hashCost is the bcrypt cost for seeded and changed passwords; 0 selects the
// bcrypt default.
var hashCost = 0

// Server is the portal HTTP service.
type Server struct {
	cfg    config.Config
	logger *zap.Logger

	kv          kv.Store
	identities  identity.Store
	identitySQL *identity.SQLStore
	activity    *activity.Store
	metrics     *metrics.Metrics
	sessions    *session.Manager

	httpServer *http.Server
}

// New builds a fully-wired Server from config and restores any persisted
// session.
func New(cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	if err := s.initStorage(); err != nil {
		return nil, err
	}
	if err := s.initIdentities(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.initSessions(); err != nil {
		s.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	handler = maxBodySizeMiddleware(handler)
	handler = loggingMiddleware(s.logger.Named("http"), handler)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

func (s *Server) needsDataDir() bool {
	backend := strings.ToLower(s.cfg.Storage.Backend)
	return backend == "" || backend == kv.BackendFile || backend == kv.BackendSQLite || s.cfg.PersistIdentities
}

func (s *Server) initStorage() error {
	if s.needsDataDir() {
		if err := os.MkdirAll(s.cfg.DataDir, 0o750); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := kv.Open(kv.Options{
		Backend: s.cfg.Storage.Backend,
		DataDir: s.cfg.DataDir,
		DSN:     s.cfg.Storage.DSN,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	s.kv = store
	return nil
}

func (s *Server) initIdentities() error {
	seeds := identity.DefaultSeed()
	if s.cfg.IdentitiesFile != "" {
		loaded, err := identity.LoadSeed(s.cfg.IdentitiesFile)
		if err != nil {
			return err
		}
		seeds = loaded
	}
	ids, err := identity.Build(seeds, hashCost)
	if err != nil {
		return err
	}

	if !s.cfg.PersistIdentities {
		mem, err := identity.NewMemoryStore(ids...)
		if err != nil {
			return err
		}
		s.identities = mem
		s.logger.Info("identities loaded", zap.Int("count", len(ids)), zap.Bool("persistent", false))
		return nil
	}

	store, err := identity.NewSQLStore(filepath.Join(s.cfg.DataDir, "identities.db"))
	if err != nil {
		return err
	}
	inserted, err := store.Seed(ids)
	if err != nil {
		store.Close()
		return err
	}
	s.identitySQL = store
	s.identities = store
	s.logger.Info("identities loaded",
		zap.Int("seeded", inserted),
		zap.Bool("persistent", true),
	)
	return nil
}

func (s *Server) initSessions() error {
	ctx := context.Background()
	log, err := activity.NewStore(ctx, s.kv, s.cfg.Session.ActivityLogLimit, s.logger.Named("activity"))
	if err != nil {
		return err
	}
	s.activity = log

	sc := s.cfg.Session
	s.sessions = session.NewManager(s.identities, s.kv, log, session.Options{
		Timeout:           sc.Timeout.Std(),
		IdleCheckInterval: sc.IdleCheckInterval.Std(),
		MaxLoginAttempts:  sc.MaxLoginAttempts,
		ChallengeRequired: sc.ChallengeRequired,
		ChallengeTTL:      sc.ChallengeTTL.Std(),
		TempSecretLength:  sc.TempPasswordLength,
		HashCost:          hashCost,
		Metrics:           s.metrics,
	}, s.logger.Named("session"))

	if _, err := s.sessions.Restore(ctx); err != nil {
		return err
	}
	return nil
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run starts the session loop and the HTTP server and blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- s.sessions.Run(loopCtx) }()

	s.logger.Info("starting portal",
		zap.String("addr", s.cfg.ListenAddr),
		zap.String("version", Version),
		zap.String("storage", s.cfg.Storage.Backend),
		zap.Bool("identities_persistent", s.identitySQL != nil),
		zap.Bool("challenge_required", s.cfg.Session.ChallengeRequired),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case err := <-loopDone:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	s.logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Close releases all resources.
func (s *Server) Close() {
	if s.identitySQL != nil {
		s.identitySQL.Close()
		s.identitySQL = nil
	}
	if s.kv != nil {
		s.kv.Close()
		s.kv = nil
	}
}
