package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tallyhr/accesscore/internal/access"
	"github.com/tallyhr/accesscore/internal/api"
	"github.com/tallyhr/accesscore/internal/app"
	"github.com/tallyhr/accesscore/internal/audit"
	"github.com/tallyhr/accesscore/internal/directory"
	"github.com/tallyhr/accesscore/internal/events"
	"github.com/tallyhr/accesscore/internal/identity"
	"github.com/tallyhr/accesscore/internal/policyhttp"
	"github.com/tallyhr/accesscore/internal/querycache"
	"github.com/tallyhr/accesscore/internal/realtime"
	"github.com/tallyhr/accesscore/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("accessd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	var store querycache.Store = querycache.NewMemoryStore()
	if cfg.Cache.Redis.Enabled {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Cache.Redis.Timeout)
		redisStore, redisErr := querycache.NewRedisStore(pingCtx, querycache.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Username: cfg.Cache.Redis.Username,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		cancel()
		if redisErr != nil {
			log.Warn("redis unavailable; using in-memory query cache", zap.Error(redisErr))
		} else {
			store = redisStore
			defer redisStore.Close()
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	reader := directory.NewReader(db, directory.WithStore(store))

	policyClient, err := policyhttp.New(cfg.Policy.URL,
		policyhttp.WithToken(cfg.Policy.Token),
		policyhttp.WithTimeout(cfg.Policy.Timeout))
	if err != nil {
		return fmt.Errorf("initialise policy client: %w", err)
	}

	var (
		feed      access.ChangeFeed
		localFeed *realtime.LocalFeed
	)
	if cfg.Realtime.Enabled {
		wsFeed := realtime.NewWebsocketFeed(cfg.Realtime.URL)
		go wsFeed.Run(ctx)
		feed = wsFeed
	} else {
		localFeed = realtime.NewLocalFeed()
		feed = localFeed
	}

	sessionCfg := cfg.SessionConfig()

	var janitor *audit.Janitor
	if cfg.Audit.Enabled {
		if err := audit.AutoMigrate(db); err != nil {
			return fmt.Errorf("auto-migrate audit schema: %w", err)
		}
		recorder := audit.NewRecorder(db)
		sessionCfg.Audit = recorder

		janitor = audit.NewJanitor(recorder,
			audit.WithRetentionDays(cfg.Audit.RetentionDays),
			audit.WithSchedule(cfg.Audit.Schedule))
		if err := janitor.Start(); err != nil {
			return fmt.Errorf("start audit janitor: %w", err)
		}
		defer func() {
			<-janitor.Stop().Done()
			cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := janitor.RunOnce(cleanupCtx); err != nil {
				log.Warn("audit shutdown cleanup failed", zap.Error(err))
			}
		}()
	}

	manager, err := access.NewManager(policyClient, feed, reader, sessionCfg)
	if err != nil {
		return fmt.Errorf("initialise session manager: %w", err)
	}
	defer manager.Close()

	invalidator, err := events.NewInvalidator(events.NewDefaultRegistry(), store)
	if err != nil {
		return fmt.Errorf("initialise invalidator: %w", err)
	}

	tokens, err := identity.NewService(identity.Config{
		Secret: cfg.Auth.JWT.Secret,
		Issuer: cfg.Auth.JWT.Issuer,
		TTL:    cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise token service: %w", err)
	}

	router, err := api.NewRouter(api.Deps{
		Manager:     manager,
		Tokens:      tokens,
		Invalidator: invalidator,
		Feed:        localFeed,
		Config:      cfg,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := directory.Open(cfg.DirectoryConfig())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := directory.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database handle unavailable on shutdown", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
