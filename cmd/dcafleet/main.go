package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dcafleet/internal/config"
	"dcafleet/internal/engine"
	"dcafleet/internal/exchange/binance"
	"dcafleet/internal/httpapi"
	"dcafleet/internal/ledger"
	"dcafleet/internal/logger"
	"dcafleet/internal/notify"
	"dcafleet/internal/store"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	log.Info("dcafleet starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := store.NewSQLiteRepository(cfg.Store.Path)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	if err := repo.Init(ctx); err != nil {
		log.WithError(err).Fatal("failed to initialize store schema")
	}
	defer repo.Close()

	client := binance.New(cfg.Exchange.BaseURL, cfg.Exchange.ApiKey, cfg.Exchange.Secret, log)
	feed := binance.NewFeed(cfg.Exchange.WSUrl, log.WithComponent("feed"))

	bus := notify.NewBus(log)
	dl := ledger.New(repo, log)

	eng := engine.New(cfg.Engine, client, feed, dl, repo, bus, log)
	if err := eng.Restore(ctx); err != nil {
		log.WithError(err).Fatal("failed to restore state")
	}

	go engine.NewReconciler(eng, cfg.Engine.ReconcileInterval).Run(ctx)
	go engine.NewBalanceWaiter(eng, cfg.Engine.BalanceWaitInterval).Run(ctx)

	router := httpapi.NewRouter(eng, repo)
	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}
	go func() {
		log.WithComponent("http").Info("listening on " + cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-sigCh

	cancel()
	eng.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}

	log.Info("dcafleet stopped")
}
