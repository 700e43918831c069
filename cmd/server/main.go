package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"drawboard/internal/board"
	"drawboard/internal/config"
	"drawboard/internal/handler"
	"drawboard/internal/middleware"
	"drawboard/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	handler.SetAllowedOrigins(cfg.AllowedOrigins)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal("Failed to open archive store:", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := board.NewRegistry()
	wsHandler := handler.NewWSHandler(registry)
	archiveHandler := &handler.ArchiveHandler{Registry: registry, Store: db, WS: wsHandler}

	go runCleanupTasks(ctx, registry, db, cfg)

	apiLimiter := middleware.NewRateLimiter(ctx, 60, time.Minute)
	wsLimiter := middleware.NewRateLimiter(ctx, 20, time.Minute)
	if len(cfg.TrustedProxies) > 0 {
		apiLimiter.SetTrustedProxies(cfg.TrustedProxies)
		wsLimiter.SetTrustedProxies(cfg.TrustedProxies)
	}

	mux := newMux(wsHandler, archiveHandler, db, apiLimiter, wsLimiter, cfg.WebDir)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     corsMiddleware(loggingMiddleware(mux), cfg.AllowedOrigins),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("drawboard server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	slog.Info("Server stopped")
}

func newMux(
	wsHandler *handler.WSHandler,
	archiveHandler *handler.ArchiveHandler,
	db *store.Store,
	apiLimiter, wsLimiter *middleware.RateLimiter,
	webDir string,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(); err != nil {
			slog.Error("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"disconnected"}`))
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("GET /api/rooms/{id}/export", apiLimiter.Middleware(http.HandlerFunc(archiveHandler.Export)).ServeHTTP)
	mux.HandleFunc("GET /api/rooms/{id}/archives", apiLimiter.Middleware(http.HandlerFunc(archiveHandler.List)).ServeHTTP)
	mux.HandleFunc("POST /api/rooms/{id}/archives", apiLimiter.Middleware(http.HandlerFunc(archiveHandler.Save)).ServeHTTP)
	mux.HandleFunc("POST /api/rooms/{id}/archives/{archiveID}/restore", apiLimiter.Middleware(http.HandlerFunc(archiveHandler.Restore)).ServeHTTP)

	mux.HandleFunc("GET /ws", wsLimiter.Middleware(http.HandlerFunc(wsHandler.HandleWebSocket)).ServeHTTP)

	mux.Handle("/", http.FileServer(http.Dir(webDir)))

	return mux
}

func runCleanupTasks(ctx context.Context, registry *board.Registry, db *store.Store, cfg *config.Config) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Cleanup tasks stopped")
			return
		case <-ticker.C:
			if evicted := registry.EvictIdle(cfg.RoomRetention); evicted > 0 {
				slog.Info("Evicted idle rooms", "count", evicted, "retention", cfg.RoomRetention)
			}

			pruned, err := db.PruneArchives(cfg.ArchiveRetention)
			if err != nil {
				slog.Error("Failed to prune archives", "error", err)
			} else if pruned > 0 {
				slog.Info("Pruned old archives", "count", pruned, "retention", cfg.ArchiveRetention)
			}
		}
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && originAllowed(origin, allowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed mirrors the websocket origin policy: an empty allowlist
// accepts everything.
func originAllowed(origin string, allowedOrigins []string) bool {
	if len(allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range allowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(origin)) {
			return true
		}
	}
	return false
}
