// Package app wires the coordinator service together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coordinator/internal/api"
	"coordinator/internal/assembler"
	"coordinator/internal/config"
	"coordinator/internal/engine"
	"coordinator/internal/events"
	"coordinator/internal/ledger"
	"coordinator/internal/logger"
	"coordinator/internal/storage"
	"coordinator/internal/tracker"
)

const shutdownTimeout = 5 * time.Second

// App centralizes dependency wiring for the coordinator service.
type App struct {
	cfg config.Config

	rpc       *ledger.RPCClient
	storage   *storage.SqliteStorage
	publisher *events.SettlementPublisher
	assembler *assembler.Assembler
	engine    *engine.Engine
	tracker   *tracker.Tracker
}

// NewApp builds an App with all required dependencies. Settlement events
// are only published when brokers are configured.
func NewApp(cfg config.Config) (*App, error) {
	payer, err := cfg.LoadPayer()
	if err != nil {
		return nil, err
	}

	db, err := storage.NewSqliteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &App{
		cfg:     cfg,
		rpc:     ledger.NewRPCClient(cfg.RPCEndpoint, cfg.Commitment),
		storage: db,
	}

	env := ledger.Env{
		Client:     a.rpc,
		ProgramID:  cfg.ProgramID,
		Payer:      payer,
		Commitment: cfg.Commitment,
	}

	options := []assembler.Option{
		assembler.WithJournal(db),
		assembler.WithConfirmTimeout(cfg.ConfirmTimeout),
	}
	if len(cfg.KafkaBrokers) > 0 {
		a.publisher = events.NewSettlementPublisher(cfg.KafkaBrokers, cfg.KafkaTopicSettlements)
		options = append(options, assembler.WithPublisher(a.publisher))
	}

	a.assembler = assembler.New(env, options...)
	a.engine = engine.New(env, cfg.Mints, a.assembler,
		engine.WithWithdrawGrace(cfg.WithdrawGrace),
		engine.WithWatchlist(db))
	a.tracker = tracker.NewTracker(db, a.engine.Registry(), a.engine, tracker.WithInterval(cfg.TrackerInterval))

	logger.Info("app: wired",
		zap.String("program", cfg.ProgramID.String()),
		zap.String("payer", env.PayerKey().String()),
		zap.Bool("events", a.publisher != nil))
	if cfg.APIToken == "" {
		logger.Warn("app: API_TOKEN unset, http intents will be refused")
	}
	return a, nil
}

// Run starts background services and blocks until ctx cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.cleanup()

	a.reconcile(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.tracker.Run(gctx)
	})

	g.Go(func() error {
		return a.runHTTPServer(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// reconcile resolves operations a previous run left pending. The ledger
// may be unreachable at start, so failure only warns.
func (a *App) reconcile(ctx context.Context) {
	resolved, err := a.assembler.Reconcile(ctx, a.storage)
	if err != nil {
		logger.Warn("app: reconcile pending operations", zap.Int("resolved", resolved), zap.Error(err))
		return
	}
	if resolved > 0 {
		logger.Info("app: reconciled pending operations", zap.Int("resolved", resolved))
	}
}

func (a *App) runHTTPServer(ctx context.Context) error {
	r, srv := api.NewServer(a.cfg.HTTPAddr)
	controller := api.NewRaffleController(a.engine, a.storage, a.tracker, a.cfg.APIToken)
	controller.RegisterRaffleRoutes(r.Group(""))

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("app: http server started", zap.String("addr", srv.Addr))
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		err := <-serverErr
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (a *App) cleanup() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.Warn("app: close kafka publisher", zap.Error(err))
		}
	}
	if err := a.rpc.Close(); err != nil {
		logger.Warn("app: close rpc client", zap.Error(err))
	}
	if err := a.storage.Close(); err != nil {
		logger.Warn("app: close storage", zap.Error(err))
	}
}
