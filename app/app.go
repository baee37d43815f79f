package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/azhanglai/LaiWebServer/config"
	"github.com/azhanglai/LaiWebServer/core"
	"github.com/azhanglai/LaiWebServer/core/observability"
	"github.com/azhanglai/LaiWebServer/core/pools"
	"github.com/azhanglai/LaiWebServer/core/userstore"
)

// storeGCInterval is how often the user database reclaims value log space.
const storeGCInterval = 5 * time.Minute

// App wires configuration, logging, the user store and the engine.
type App struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   *userstore.Store
	engine  *core.Engine
	monitor *observability.Monitor
}

// NewLogger builds the process logger: text for development, JSON in production.
func NewLogger(cfg *config.Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(level)
	if cfg.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// New creates an application instance
func New(cfg *config.Config) (*App, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	pools.ApplyGCConfig(pools.GCConfig{GOGC: cfg.GOGC, MemoryLimit: cfg.MemoryLimit})

	store, err := userstore.Open(userstore.Options{
		Dir:      cfg.UserDB,
		PoolSize: cfg.DBPoolNum,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open user store: %w", err)
	}

	monitor := observability.NewMonitor()
	engine, err := core.NewEngine(core.Options{
		Port:      cfg.Port,
		TrigMode:  cfg.TrigMode,
		TimeoutMS: cfg.TimeoutMS,
		OptLinger: cfg.OptLinger,
		ThreadNum: cfg.ThreadNum,
		MaxConns:  cfg.MaxConns,
		SrcDir:    cfg.SrcDir,
		Verifier:  store,
		Monitor:   monitor,
		Logger:    logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     logger,
		store:   store,
		engine:  engine,
		monitor: monitor,
	}, nil
}

// Engine returns the underlying engine
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Listen binds the server socket.
func (a *App) Listen() error {
	if err := a.engine.Listen(); err != nil {
		a.log.WithError(err).Error("❌ Server init failed")
		return err
	}
	a.log.WithFields(logrus.Fields{
		"port":    a.cfg.Port,
		"env":     a.cfg.Env,
		"src":     a.cfg.SrcDir,
		"db_pool": a.cfg.DBPoolNum,
	}).Info("🚀 LaiWebServer started")
	return nil
}

// Serve runs until SIGINT, SIGTERM or Shutdown, then closes the user store.
func (a *App) Serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.awaitSignal(ctx)
	go a.store.RunGC(ctx, storeGCInterval)

	err := a.engine.Serve()
	stop()

	a.log.Info("📊 Final statistics\n" + a.engine.StatsText())
	if cerr := a.store.Close(); cerr != nil {
		a.log.WithError(cerr).Warn("⚠️  Closing user store failed")
	}
	return err
}

// Run listens and serves.
func (a *App) Run() error {
	if err := a.Listen(); err != nil {
		a.store.Close()
		return err
	}
	return a.Serve()
}

// Shutdown stops the engine; Serve then returns.
func (a *App) Shutdown() {
	a.engine.Shutdown()
}

func (a *App) awaitSignal(ctx context.Context) {
	<-ctx.Done()
	a.log.Info("Shutting down...")
	a.engine.Shutdown()
}
