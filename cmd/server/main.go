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

	"github.com/joho/godotenv"

	"github.com/browsergate/browsergate/internal/artifact"
	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/engine"
	"github.com/browsergate/browsergate/internal/events"
	"github.com/browsergate/browsergate/internal/gateway"
	"github.com/browsergate/browsergate/internal/pool"
	"github.com/browsergate/browsergate/internal/ratelimit"
	"github.com/browsergate/browsergate/internal/registry"
	"github.com/browsergate/browsergate/internal/router"
	"github.com/browsergate/browsergate/internal/workspace"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting BrowserGate...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize browser engine
	eng, err := engine.NewPlaywright(engine.PlaywrightOptions{
		Browser:            cfg.Browser,
		Headless:           cfg.Headless,
		ChromiumChannel:    cfg.ChromiumChannel,
		ChromiumExecutable: cfg.ChromiumExecutable,
	})
	if err != nil {
		log.Fatalf("Failed to start browser engine: %v", err)
	}
	defer eng.Close()
	log.Printf("✓ Browser engine started (%s, headless=%v)", cfg.Browser, cfg.Headless)

	// Initialize workspace and artifact storage
	workspaces, err := workspace.NewManager(cfg.WorkspaceRoot, cfg.ArtifactRoot)
	if err != nil {
		log.Fatalf("Failed to create workspace manager: %v", err)
	}
	artifacts := artifact.NewManager(workspaces, cfg.ArtifactMaxBytes)
	log.Printf("✓ Workspaces at %s, artifacts at %s (cap %d bytes)", cfg.WorkspaceRoot, cfg.ArtifactRoot, cfg.ArtifactMaxBytes)

	// Initialize context pool
	poolSize := 0
	if cfg.PoolEnabled {
		poolSize = cfg.PoolSize
	}
	ctxPool := pool.New(eng, poolSize)
	if ctxPool.Enabled() {
		if err := ctxPool.Warm(); err != nil {
			log.Fatalf("Failed to warm context pool: %v", err)
		}
		log.Printf("✓ Context pool warmed (%d contexts)", poolSize)
	} else {
		log.Println("✓ Context pool disabled")
	}
	defer ctxPool.Close()

	// Initialize event bus and session registry
	bus := events.NewBus(events.DefaultBuffer)
	reg := registry.New(cfg, eng, ctxPool, workspaces, artifacts, bus)
	reg.StartSweeper()
	defer reg.Shutdown()
	log.Printf("✓ Session registry initialized (max %d sessions, idle timeout %s)", cfg.MaxSessions, cfg.IdleTimeout)

	// Initialize command router and rate limiter
	rt := router.New(cfg, reg, artifacts, ctxPool, bus)
	limiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateBurst)
	log.Printf("✓ Rate limiter initialized (%d req/hour per client)", cfg.RateLimitPerHour)

	// Optional artifact HTTP server
	var artifactSrv *http.Server
	if cfg.ArtifactHTTPEnabled {
		base := fmt.Sprintf("http://%s:%d", cfg.ArtifactHTTPHost, cfg.ArtifactHTTPPort)
		artifacts.SetHTTPBase(base)
		artifactSrv = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.ArtifactHTTPHost, cfg.ArtifactHTTPPort),
			Handler:      artifact.NewHTTPServer(artifacts, cfg.AuthToken, cfg.ArtifactHTTPAuthRequired).Handler(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Printf("🗂  Artifact HTTP server on %s", base)
			if err := artifactSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Artifact server error: %v", err)
			}
		}()
	}

	// WebSocket gateway
	gw := gateway.NewServer(cfg, rt, reg, bus, limiter)
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     gw.Handler(),
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("🚀 Gateway listening on ws://%s:%d", cfg.Host, cfg.Port)
		if cfg.AuthRequired {
			log.Println("🔒 Authentication required (first frame must be auth)")
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("⏳ Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Gateway forced to shutdown: %v", err)
	}
	if artifactSrv != nil {
		if err := artifactSrv.Shutdown(ctx); err != nil {
			log.Printf("Artifact server forced to shutdown: %v", err)
		}
	}

	log.Println("✅ Server stopped cleanly")
}
