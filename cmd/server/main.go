package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"chat-hub/internal/auth"
	"chat-hub/internal/cache"
	"chat-hub/internal/config"
	"chat-hub/internal/database"
	"chat-hub/internal/handlers"
	"chat-hub/internal/hub"
	"chat-hub/internal/services"
	"chat-hub/internal/websocket"
	"chat-hub/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetGlobal(log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewPostgresDB(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to prepare database: %v", err)
	}

	var participants hub.ParticipantChecker = db
	if cfg.Redis.URL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		participants = cache.NewParticipantCache(rdb, db, cfg.Redis.ParticipantTTL, log)
		logger.Info("Participant cache enabled (ttl %s)", cfg.Redis.ParticipantTTL)
	}

	dispatcher := hub.NewDispatcher(hub.Options{
		Storage:        db,
		Participants:   participants,
		Logger:         log,
		StorageTimeout: cfg.Database.Timeout,
	})

	// Initialize services
	authService := auth.NewService(db, cfg.JWT)
	conversationService := services.NewConversationService(db, dispatcher)

	routes := handlers.Routes{
		Auth:          handlers.NewAuthHandlers(authService),
		Conversations: handlers.NewConversationHandlers(conversationService),
		Presence:      handlers.NewPresenceHandlers(dispatcher),
		WebSocket: websocket.NewHandler(context.Background(), dispatcher, authService, websocket.Options{
			AllowedOrigins: cfg.WebSocket.AllowedOrigins,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			SendBuffer:     cfg.WebSocket.SendBuffer,
			RateLimit:      cfg.WebSocket.RateLimit,
			RateBurst:      cfg.WebSocket.RateBurst,
		}),
		Resolver: authService,
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      routes.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server started on http://localhost%s", cfg.Server.Port)
		logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// http.Server does not track hijacked connections, so the hub
		// closes the websocket sessions itself.
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error: %v", err)
		}
		return dispatcher.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error: %v", err)
	}
	logger.Info("Server stopped")
}
