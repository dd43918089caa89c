package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jcapra/camrelay/internal/history"
	"github.com/jcapra/camrelay/internal/push"
	"github.com/jcapra/camrelay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := server.NewConfigFromEnv()
	server.SetConfig(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir %s: %v", cfg.DataDir, err)
	}

	store, err := history.Open(filepath.Join(cfg.DataDir, "chat-history.json"))
	if err != nil {
		log.Fatalf("Failed to open chat history: %v", err)
	}

	notifier := push.NewNotifier(push.Options{
		Endpoint:          cfg.Push.Endpoint,
		AppID:             cfg.Push.AppID,
		APIKey:            cfg.Push.APIKey,
		SubscriptionsPath: filepath.Join(cfg.DataDir, "push-subscriptions.json"),
	})

	hub := server.NewHub(store, notifier)
	go hub.Run()

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go store.RunFlusher(ctx, cfg.PersistInterval)

	mux := server.SetupRoutes(hub, notifier, *cfg)
	srv := server.CreateServer(cfg.Port, mux)

	go func() {
		if err := server.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received")

	if err := server.ShutdownServer(srv, shutdownTimeout); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Hub shutdown: %v", err)
	}
	if err := store.Persist(); err != nil {
		log.Printf("Final history flush: %v", err)
	}
}
