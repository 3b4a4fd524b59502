// Package server initializes and runs the custody server: it opens the
// database, runs migrations, wires the services and serves the HTTP API until
// an OS signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/avolkov/quantvault/internal/cryptox"
	"github.com/avolkov/quantvault/internal/logging"
	"github.com/avolkov/quantvault/internal/server/config"
	"github.com/avolkov/quantvault/internal/server/httpapi"
	"github.com/avolkov/quantvault/internal/server/repositories/repomanager"
	"github.com/avolkov/quantvault/internal/server/services"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	config          *config.Config
	logger          logging.Logger
	db              *sql.DB
	userService     *services.UserService
	custodyService  *services.CustodyService
	recoveryService *services.RecoveryService
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	kem := cryptox.NewMLKEM768()
	audit := services.NewLogAuditor(logger)

	us := services.NewUserService(db, repos, cfg)
	cs := services.NewCustodyService(db, repos, kem, audit)
	rs := services.NewRecoveryService(db, repos, kem, cryptox.NewShamirSplitter(), audit, cfg.RecoveryRequestTTL)

	return &App{
		config:          cfg,
		logger:          logger,
		db:              db,
		userService:     us,
		custodyService:  cs,
		recoveryService: rs,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewHTTPServer(app.config.EndpointAddrHTTP, app.logger,
		app.userService, app.custodyService, app.recoveryService, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// startExpirySweeper periodically transitions overdue recovery requests to
// EXPIRED. Disabled when the interval is zero; lazy expiry on reads still
// applies.
func (app *App) startExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.recoveryService.ExpireStale(ctx); err != nil {
				app.logger.Error(ctx, "expiry sweep failed", "error", err)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startExpirySweeper(ctx, app.config.ExpirySweepInterval)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing db", "error", err)
	}
}
