package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avelens/spotigram/internal/api"
	"github.com/avelens/spotigram/internal/bot"
	"github.com/avelens/spotigram/internal/config"
	"github.com/avelens/spotigram/internal/database"
	"github.com/avelens/spotigram/internal/jobs"
	"github.com/avelens/spotigram/internal/planner"
	"github.com/avelens/spotigram/internal/secrets"
	"github.com/avelens/spotigram/internal/spotify"
	"github.com/avelens/spotigram/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Token encryption keyring
	cipher, err := secrets.NewCipher(cfg.Encryption.Keys, cfg.Encryption.ActiveKeyID)
	if err != nil {
		log.Fatalf("Failed to initialize token encryption: %v", err)
	}

	// Stores
	users := store.NewUsers(db)
	attempts := store.NewAttempts(db)
	creds := store.NewCredentials(db, cipher)
	quotas := store.NewQuotas(db)

	// Spotify auth + API client
	auth := spotify.NewAuthenticator(cfg.Spotify, attempts)
	tokens := spotify.NewTokenManager(creds, auth)
	client := spotify.NewClient(tokens, cfg.Spotify.APIBaseURL)

	// AI playlist planner
	pl := planner.New(cfg.Planner)

	// Background cleanup jobs
	scheduler := jobs.NewScheduler(attempts, quotas)
	scheduler.Start()
	defer scheduler.Stop()

	// Telegram bot
	botCtx, stopBot := context.WithCancel(context.Background())
	tgBot := bot.New(cfg, users, creds, quotas, client, pl)
	go tgBot.Run(botCtx)

	// Setup HTTP router (OAuth callback surface + health)
	router := api.NewRouter(users, creds, auth, client)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	stopBot()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
