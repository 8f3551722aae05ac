// Command tabrelay hosts the websocket relay behind the "ws" channel
// transport, so walletd instances on one machine can find each other.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/walletd/walletd/internal/channel"
	"github.com/walletd/walletd/internal/config"
	"github.com/walletd/walletd/internal/logging"
)

func main() {
	configPath := flag.String("config", "walletd.yaml", "Path to config file")
	host := flag.String("host", "", "Override listen host")
	port := flag.Int("port", 0, "Override relay port")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port > 0 {
		cfg.Server.RelayPort = *port
	}
	log := logging.New(cfg.Log)

	relay := channel.NewRelay(logging.Component(log, "relay"))
	mux := http.NewServeMux()
	mux.Handle("/channel", relay)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"clients": relay.ClientCount()})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.RelayPort)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Shutting down...")
		relay.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.WithField("addr", addr).Info("Relay listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("Relay error")
	}
}
