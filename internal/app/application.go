package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"chatpulse/internal/api"
	"chatpulse/internal/auth"
	"chatpulse/internal/config"
	"chatpulse/internal/fanout"
	"chatpulse/internal/presence"
	"chatpulse/internal/relay"
	"chatpulse/internal/room"
	"chatpulse/internal/session"
	"chatpulse/internal/store"
	"chatpulse/internal/websocket"
)

// Application wires all components and owns their lifecycle.
// Initialization order follows the dependency chain:
// store -> auth -> registry -> rooms -> presence -> fanout -> relay ->
// websocket handler -> api -> http server.
type Application struct {
	config     *config.Config
	store      *store.Manager
	registry   *session.Registry
	httpServer *http.Server
}

// NewApplication builds the full component graph from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	storeManager, err := store.NewManager(store.Config{
		Path:           cfg.Database.Path,
		MaxConnections: cfg.Database.MaxConnections,
		WriteTimeout:   cfg.Database.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	tokens := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL)

	registry := session.NewRegistry()
	rooms := room.NewRouter()
	tracker := presence.NewTracker(registry, storeManager)
	dispatcher := fanout.NewDispatcher(registry)
	limiter := relay.NewRateLimiter(cfg.Relay.EventRateLimit, cfg.Relay.EventRateWindow)
	eventRelay := relay.NewRelay(registry, rooms, tracker, dispatcher, limiter)

	wsHandler := websocket.NewHandler(eventRelay, tokens, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})

	apiServer := api.NewServer(storeManager, tracker, tokens, registry, storeManager)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      storeManager,
		registry:   registry,
		httpServer: httpServer,
	}, nil
}

// Start begins serving and verifies the listener came up.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting chatpulse relay on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("chatpulse relay started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP first so no new
// connections arrive, then the store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down chatpulse relay")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := app.store.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Printf("Shutdown complete")
	return nil
}

// Addr returns the server address for external connections.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
