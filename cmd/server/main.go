package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agora/forum-chat/internal/auth"
	"github.com/agora/forum-chat/internal/httpapi"
	"github.com/agora/forum-chat/internal/messaging"
	"github.com/agora/forum-chat/internal/metrics"
	"github.com/agora/forum-chat/internal/moderation"
	"github.com/agora/forum-chat/internal/ratelimit"
	"github.com/agora/forum-chat/internal/store"
	"github.com/agora/forum-chat/internal/topic"
	"github.com/agora/forum-chat/internal/ws"
)

func main() {
	listenAddr := ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		listenAddr = v
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	tokenTTL := 24 * time.Hour
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			tokenTTL = d
		}
	}

	config := ws.DefaultConfig()
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("SEND_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.SendBuffer = n
		}
	}
	if v := os.Getenv("PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.PingInterval = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.WriteTimeout = d
		}
	}

	// --- Postgres ---
	st, err := store.Open(dsn)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if err := store.Migrate(st.DB()); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis (optional: moderation cache + rate limiting) ---
	var redisClient *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to Redis at %s: %v", addr, err)
		}
		cancel()
	}

	tokens := auth.NewTokens([]byte(secret), tokenTTL)
	mod := moderation.NewProvider(st, redisClient)
	limiter := ratelimit.NewLimiter(redisClient)

	// --- Topic registry ---
	topics := topic.NewRegistry()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := topics.Load(ctx, st); err != nil {
			log.Fatalf("failed to load topics: %v", err)
		}
		cancel()
	}

	// --- WebSocket server ---
	server := ws.NewServer(config, tokens, mod)

	// --- NATS (optional event mirror) ---
	var mirror *messaging.Mirror
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = natsURL
		mirror, err = messaging.Connect(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		server.SetMirror(mirror)
	}

	api := httpapi.New(st, topics, tokens, mod, limiter, server)

	mux := http.NewServeMux()
	api.Routes(mux)
	mux.HandleFunc("GET /ws", server.HandleUpgrade)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	log.Printf("Forum chat server starting")
	log.Printf("  listen_addr:     %s", listenAddr)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  send_buffer:     %d", config.SendBuffer)
	log.Printf("  ping_interval:   %s", config.PingInterval)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  topics_loaded:   %d", topics.Count())
	log.Printf("  redis:           %v", redisClient != nil)
	log.Printf("  nats_mirror:     %v", mirror != nil)

	server.Start()

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}

		server.Shutdown()
		if mirror != nil {
			mirror.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
		if err := st.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
