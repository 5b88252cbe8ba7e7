// Package main запускает HTTP-сервер POS-терминала.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/pos-terminal-system/internal/config"
	"github.com/mmeshcher/pos-terminal-system/internal/customers"
	"github.com/mmeshcher/pos-terminal-system/internal/eventbus"
	"github.com/mmeshcher/pos-terminal-system/internal/handler"
	"github.com/mmeshcher/pos-terminal-system/internal/inventory"
	"github.com/mmeshcher/pos-terminal-system/internal/module"
	"github.com/mmeshcher/pos-terminal-system/internal/payment"
	"github.com/mmeshcher/pos-terminal-system/internal/pos"
	"github.com/mmeshcher/pos-terminal-system/internal/repository"
	"github.com/mmeshcher/pos-terminal-system/internal/storage"
	"github.com/mmeshcher/pos-terminal-system/internal/syncer"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := storage.Open(cfg.DatabasePath, logger)
	defer store.Close()

	// Удалённое хранилище опционально: без него терминал работает автономно,
	// очередь синхронизации копится до появления адреса.
	var remote syncer.Remote
	if cfg.RemoteDatabaseURI != "" {
		pg, err := repository.NewPostgresRemote(cfg.RemoteDatabaseURI)
		if err != nil {
			sugar.Fatalw("remote database initialization error", "error", err.Error())
		}
		defer pg.Close()
		remote = pg
	}

	bus := eventbus.New()

	engine := payment.NewEngine(bus, module.CoreModuleID, cfg.PaymentTimeout, logger)
	core := pos.NewCore(ctx, bus, store, engine, cfg.CartMaxAge, logger)
	inv := inventory.NewInventory(bus, store, logger)
	cust := customers.NewCustomers(bus, store, logger)

	runtime := module.NewRuntime(bus, logger)
	for _, m := range []module.Module{core, inv, cust} {
		if err := runtime.Register(m); err != nil {
			sugar.Fatalw("module registration error", "module", m.Descriptor().ID, "error", err.Error())
		}
	}
	for _, id := range []string{module.CoreModuleID, inventory.ModuleID, customers.ModuleID} {
		if err := runtime.Activate(ctx, id); err != nil {
			sugar.Fatalw("module activation error", "module", id, "error", err.Error())
		}
	}

	worker := syncer.NewWorker(store, remote, bus, cfg.SyncInterval, logger)

	h := handler.New(core, inv, cust, runtime, store, logger)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.Router(),
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой синхронизации очереди изменений
	g.Go(func() error {
		worker.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting pos terminal server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
