package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/brightreach/engagement-engine/internal/api"
	"github.com/brightreach/engagement-engine/internal/cache"
	"github.com/brightreach/engagement-engine/internal/config"
	"github.com/brightreach/engagement-engine/internal/experiment"
	"github.com/brightreach/engagement-engine/internal/insights"
	"github.com/brightreach/engagement-engine/internal/metrics"
	"github.com/brightreach/engagement-engine/internal/segment"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("[Server] BrightReach engagement engine starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := checkPortAvailable(cfg.Server.GetHost(), cfg.Server.Port); err != nil {
		log.Fatalf("Port check failed: %v", err)
	}

	// PostgreSQL
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime())

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Database ping failed: %v", err)
	}
	pingCancel()
	log.Println("[Server] Connected to PostgreSQL")

	// Redis backs session choices and the aggregate cache. The engine stays
	// up without it; resolution degrades to defaults and aggregates
	// recompute on every request.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("[Server] Redis unavailable, continuing degraded: %v", err)
	} else {
		log.Println("[Server] Connected to Redis")
	}

	// Metrics registry with the standard process/go collectors.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Segment resolution
	profiles := segment.NewProfileStore(db)
	sessions := segment.NewSessionStore(rdb, cfg.Session.TTL())
	resolver := segment.NewResolver(profiles, sessions)

	// Experiments
	expStore := experiment.NewStore(db)
	expService := experiment.NewService(expStore, m, cfg.Experiments.DefaultContentRef)

	// Engagement insights
	loc, err := time.LoadLocation(cfg.Insights.ReferenceTimezone)
	if err != nil {
		log.Fatalf("Invalid reference timezone %q: %v", cfg.Insights.ReferenceTimezone, err)
	}
	eventStore := insights.NewEventStore(db)
	aggCache := cache.New(rdb, m)
	aggregator := insights.NewAggregator(eventStore, aggCache, loc, cfg.Insights.MinBaselineSends, cfg.Insights.CacheTTL())

	handlers := api.NewHandlers(resolver, expService, aggregator, m)
	healthChecker := api.NewHealthChecker(db, rdb)
	router := api.SetupRoutes(handlers, healthChecker, reg)
	server := api.NewServer(router)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
		log.Printf("[Server] Listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("[Server] Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
	}
	log.Println("[Server] Stopped")
}
