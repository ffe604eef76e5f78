package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-app/internal/archive"
	"collab-app/internal/auth"
	"collab-app/internal/config"
	"collab-app/internal/room"
	"collab-app/internal/websocket"
	"collab-app/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Optional persistence collaborator: when DATABASE_URL is unset the
	// core runs fully in memory.
	var sink room.MessageSink
	var archiver *archive.Archiver
	if cfg.Archive.DatabaseURL != "" {
		var err error
		archiver, err = archive.New(context.Background(), cfg.Archive.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to start message archiver: %v", err)
		}
		sink = archiver
	}

	// Room manager owns every room's worker and garbage-collects empty ones.
	rooms := room.NewManager(room.Options{
		TypingTTL:        cfg.Room.TypingTTL,
		HistoryRetention: cfg.Room.HistoryRetention,
		DefaultChannel:   cfg.Room.DefaultRoom,
	}, cfg.Room.GracePeriod, sink)

	authService := auth.NewService(cfg)
	wsHandler := websocket.NewHandler(authService, rooms, cfg.Server, cfg.Room.DefaultRoom)

	mux := http.NewServeMux()
	setupRoutes(mux, wsHandler)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("🚀 Collaboration server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws/{room}", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
	rooms.Close()
	if archiver != nil {
		archiver.Close(ctx)
	}
}

func setupRoutes(mux *http.ServeMux, wsHandler *websocket.Handler) {
	// Room id is the path segment after /ws; bare /ws lands in the tenant's
	// shared room.
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)
	mux.HandleFunc("/ws/", wsHandler.HandleWebSocket)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
