package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/taiidzy/ren/internal/auth"
	"github.com/taiidzy/ren/internal/config"
	"github.com/taiidzy/ren/internal/db"
	"github.com/taiidzy/ren/internal/handlers"
	"github.com/taiidzy/ren/internal/media"
	"github.com/taiidzy/ren/internal/metrics"
	"github.com/taiidzy/ren/internal/middleware"
	"github.com/taiidzy/ren/internal/pubsub"
	"github.com/taiidzy/ren/internal/registry"
	"github.com/taiidzy/ren/internal/websocket"
)

func main() {
	// Load configuration with secure JWT secret handling
	cfg := config.Load()

	log.Printf("Starting Ren chat server: %s", cfg.ServerID)

	// Initialize database connection
	database, err := db.NewPostgresDB(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Warning: failed to close database: %v", err)
		}
	}()
	if err := database.InitSchema(); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Initialize Redis connection
	redisClient, err := pubsub.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("Warning: failed to close Redis: %v", err)
		}
	}()

	// Initialize media storage
	mediaService, err := media.NewMediaService(cfg.MinioURL, cfg.MinioKey, cfg.MinioSecret, cfg.MinioBucket, false)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}

	// Initialize service registry (Consul)
	serviceRegistry, err := registry.New(cfg.ConsulURL, cfg.ServerID, cfg.ServerPort)
	if err != nil {
		log.Fatalf("Failed to connect to Consul: %v", err)
	}
	if err := serviceRegistry.Register(); err != nil {
		log.Fatalf("Failed to register service: %v", err)
	}
	defer func() {
		if err := serviceRegistry.Deregister(); err != nil {
			log.Printf("Warning: failed to deregister service: %v", err)
		}
	}()

	// Auth service over the user store
	authService := auth.NewAuthService(database)

	// WebSocket hub plus cross-server subscriptions
	hub := websocket.NewHub(cfg.ServerID, redisClient, database)
	go hub.Run()
	go redisClient.SubscribeToMessages(hub)
	go redisClient.SubscribeToPresenceUpdates(hub)

	// Setup HTTP router
	router := mux.NewRouter()
	router.Use(metrics.HTTPMiddleware)

	// Health check endpoint (for load balancer)
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()

	rateLimiter := middleware.NewRateLimiter(redisClient.GetClient(), cfg.RateLimits,
		log.New(os.Stdout, "[RATELIMIT] ", log.Ldate|log.Ltime|log.LUTC))

	// Abuse-prone endpoints run in strict mode
	rateLimiter.SetEndpointStrictMode("POST /api/v1/auth/register", true)
	rateLimiter.SetEndpointStrictMode("POST /api/v1/auth/login", true)
	rateLimiter.SetEndpointStrictMode("POST /api/v1/auth/recovery/fetch", true)
	rateLimiter.SetEndpointStrictMode("GET /api/v1/users/search", true)

	// Auth routes (no auth required, but rate limited)
	api.Handle("/auth/register", rateLimiter.Middleware(handlers.Register(authService, database))).Methods("POST")
	api.Handle("/auth/login", rateLimiter.Middleware(handlers.Login(authService, database))).Methods("POST")
	api.Handle("/auth/refresh", rateLimiter.Middleware(handlers.RefreshToken(authService))).Methods("POST")
	api.Handle("/auth/recovery/fetch", rateLimiter.Middleware(handlers.GetRecovery(database))).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(authService))
	protected.Use(rateLimiter.Middleware)

	// User routes
	protected.Handle("/users/me", handlers.GetCurrentUser(database)).Methods("GET")
	protected.Handle("/users/me", handlers.UpdateUser(database)).Methods("PUT", "PATCH")
	protected.Handle("/users/search", handlers.SearchUsers(database)).Methods("GET")
	protected.Handle("/users/{userId}/profile", handlers.GetUserProfile(database, redisClient)).Methods("GET")

	// Key distribution routes
	protected.Handle("/users/{userId}/keys", handlers.GetUserKeys(database)).Methods("GET")
	protected.Handle("/users/{userId}/bundle", handlers.GetPreKeyBundle(database)).Methods("GET")
	protected.Handle("/users/me/prekeys", handlers.UploadPreKeys(database)).Methods("POST")
	protected.Handle("/users/me/prekeys/count", handlers.CountPreKeys(database)).Methods("GET")
	protected.Handle("/users/me/signed-prekey", handlers.UpdateSignedPreKey(database)).Methods("PUT")

	// Recovery
	protected.Handle("/auth/recovery", handlers.SetupRecovery(database)).Methods("POST")

	// Chat and message routes
	protected.Handle("/chats", handlers.CreateChat(database)).Methods("POST")
	protected.Handle("/chats", handlers.ListChats(database)).Methods("GET")
	protected.Handle("/chats/{chatId}/messages", handlers.GetMessages(database)).Methods("GET")
	protected.Handle("/messages/{messageId}/status", handlers.UpdateMessageStatus(database)).Methods("PUT")

	// Session snapshot routes (opaque blobs)
	protected.Handle("/sessions", handlers.UpsertSessionSnapshot(database)).Methods("PUT")
	protected.Handle("/sessions/{userId}", handlers.GetSessionSnapshot(database)).Methods("GET")
	protected.Handle("/sessions/{userId}", handlers.DeleteSessionSnapshot(database)).Methods("DELETE")

	// Media routes
	protected.Handle("/media/upload-url", handlers.GetUploadURL(mediaService, database, cfg)).Methods("POST")
	protected.Handle("/media/{mediaId}", handlers.GetDownloadURL(mediaService)).Methods("GET")

	// WebSocket endpoint (requires auth via query param or header)
	router.HandleFunc("/ws", handlers.WebSocketHandler(hub, authService)).Methods("GET")

	// CORS configuration - restrict to known origins in production
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
			"https://ren.taiidzy.dev",
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	// Create HTTP server with security timeouts to prevent Slowloris attacks
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           corsHandler.Handler(router),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Chat server listening on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Printf("Received signal %v - starting graceful shutdown...", sig)

	// Deregister first so the load balancer stops routing here
	if err := serviceRegistry.Deregister(); err != nil {
		log.Printf("Warning: Failed to deregister from service discovery: %v", err)
	}
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	serverShutdownDone := make(chan struct{})
	go func() {
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Warning: HTTP server shutdown error: %v", err)
		}
		close(serverShutdownDone)
	}()

	// Close WebSocket connections gracefully
	hub.Shutdown()

	<-serverShutdownDone
	log.Println("Server stopped gracefully")
}
