package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/walletd/walletd/internal/api"
	"github.com/walletd/walletd/internal/channel"
	"github.com/walletd/walletd/internal/compat"
	"github.com/walletd/walletd/internal/config"
	"github.com/walletd/walletd/internal/engine"
	"github.com/walletd/walletd/internal/engine/httpengine"
	"github.com/walletd/walletd/internal/guard"
	"github.com/walletd/walletd/internal/kv"
	"github.com/walletd/walletd/internal/logging"
	"github.com/walletd/walletd/internal/mock"
	"github.com/walletd/walletd/internal/session"
	"github.com/walletd/walletd/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use a simulated wallet engine")
	configPath := flag.String("config", "walletd.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	safeMode := flag.Bool("safe-mode", false, "Open the engine in safe mode")
	storageDir := flag.String("storage-dir", "", "Override storage directory")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *safeMode {
		cfg.Boot.SafeMode = true
	}
	if *storageDir != "" {
		cfg.Storage.Dir = *storageDir
	}
	if *mockMode {
		cfg.Engine.Kind = "mock"
	}

	log := logging.New(cfg.Log)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("walletd exited")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = kv.DefaultDir()
	}
	store, err := kv.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	var provider engine.Provider
	if cfg.Engine.Kind == "mock" {
		log.Info("Starting with the simulated engine")
		p := mock.NewProvider().SetNetwork(cfg.Settings.Network)
		gen := mock.NewGenerator(p, 0)
		gen.Seed(time.Now())
		gen.Start(ctx)
		provider = p
	} else {
		log.WithField("url", cfg.Engine.URL).Info("Using engine daemon")
		provider = httpengine.NewProvider(cfg.Engine.URL, cfg.Engine.CallTimeout)
	}

	req := compat.Requirements{MinFreeDisk: cfg.Boot.MinFreeDisk, MinFreeMem: cfg.Boot.MinFreeMem}
	switch cfg.Storage.Backend {
	case "", "file", "sqlite":
		req.StorageDir = cfg.Storage.Dir
	}

	var stream *ws.Broadcaster
	opts := []session.Option{
		session.WithConfig(cfg),
		session.WithLogger(log),
		session.WithEnvChecker(compat.NewChecker(req, nil)),
		session.WithNavigator(func(path string) {
			if stream != nil {
				stream.Navigate(path)
			}
		}),
	}

	bus, err := channel.Open(cfg.Channel, log)
	if err != nil {
		// No channel, no guard: boot continues unguarded.
		log.WithError(err).WithField("transport", cfg.Channel.Transport).Warn("Instance channel unavailable, running without guard")
	} else {
		defer bus.Close()
		opts = append(opts, session.WithGuard(guard.New(bus, cfg.Guard.WaitWindow, log)))
	}

	sess, err := session.New(ctx, store, provider, opts...)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	privacy := &session.PrivacyFilter{MaskPublicID: cfg.Privacy.MaskPublicID, HideBalances: cfg.Privacy.HideBalances}
	stream = ws.NewBroadcaster(sess, privacy, cfg.Server.Throttle, cfg.Server.Snapshot, cfg.Server.MaxClients, log)
	sess.OnChange(stream.QueueUpdate)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(sess, stream, privacy, cfg.Server, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		if err := sess.Mount(ctx); err != nil {
			log.WithError(err).Error("Session mount failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("Shutting down...")
	case serveErr = <-errCh:
		log.WithError(serveErr).Error("Server error")
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	stream.Stop()
	sess.Teardown(shutdownCtx)
	return serveErr
}
