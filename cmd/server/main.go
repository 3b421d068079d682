package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/captcha"
	"sequence_engine/internal/config"
	"sequence_engine/internal/httpapi"
	"sequence_engine/internal/logbus"
	"sequence_engine/internal/model"
	"sequence_engine/internal/notify"
	"sequence_engine/internal/scheduler"
	"sequence_engine/internal/scripts"
	"sequence_engine/internal/store/sqlite"
	"sequence_engine/internal/verify"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	bus := logbus.New(200)
	bus.Log("info", "server starting", map[string]any{"addr": cfg.Server.Addr})

	ctx := context.Background()
	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	adapter, err := browser.NewRod(cfg.Browser)
	if err != nil {
		log.Fatalf("launch browser: %v", err)
	}
	defer adapter.Close()

	notifier := notify.NewEmailNotifier(store, bus)

	sched := scheduler.New(scheduler.Options{
		Cfg:      cfg,
		Adapter:  adapter,
		Bus:      bus,
		Verifier: verify.New(cfg.Verify, bus),
		Notifier: notifier,
		Captcha:  captcha.New(cfg.Captcha, bus),
		Scripts:  scripts.For,
		RunSink: func(ctx context.Context, runs []model.SequenceRun) {
			if err := store.SaveRuns(ctx, runs); err != nil {
				bus.Log("warn", "运行结果落库失败", map[string]any{"error": err.Error()})
			}
		},
	})

	api := httpapi.New(httpapi.Options{
		Cfg:       cfg,
		Bus:       bus,
		Store:     store,
		Scheduler: sched,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		bus.Log("info", "shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			bus.Log("error", "http server error", map[string]any{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = sched.Shutdown(shutdownCtx)
	_ = notifier.Close(shutdownCtx)
	_ = server.Shutdown(shutdownCtx)
	bus.Log("info", "server stopped", nil)
}
