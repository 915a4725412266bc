package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/swarmctl/swarmctl/internal/bus"
	"github.com/swarmctl/swarmctl/internal/config"
	"github.com/swarmctl/swarmctl/internal/isolation"
	"github.com/swarmctl/swarmctl/internal/modelpolicy"
	"github.com/swarmctl/swarmctl/internal/orchestrator"
	store "github.com/swarmctl/swarmctl/internal/repository"
	"github.com/swarmctl/swarmctl/internal/taskrunner"
	v1 "github.com/swarmctl/swarmctl/internal/transport/http/v1"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting swarmctl...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("State dir: %s", cfg.StateDir)
	log.Printf("Template dir: %s", cfg.TemplateDir)

	ledgers, err := store.NewManager(cfg.StateDir)
	if err != nil {
		log.Fatalf("Failed to initialize ledger manager: %v", err)
	}

	messageBus := bus.New(ledgers)

	ctx := context.Background()
	policyEngine, err := modelpolicy.NewDefaultEngine(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize model policy: %v", err)
	}

	runner := taskrunner.NewFromEnv()
	if runner == nil {
		log.Println("SWARMCTL_MODE is not MOCK and no real TaskRunner is bundled; falling back to the mock runner")
		runner = taskrunner.NewMockRunner()
	}

	isoBackend := isolation.NewMockBackend(os.TempDir())

	settings := orchestrator.StaticSettingsProvider{Value: cfg.Settings}

	processWD, err := os.Getwd()
	if err != nil {
		log.Fatalf("Failed to resolve working directory: %v", err)
	}

	orch := orchestrator.New(cfg.StateDir, processWD, ledgers, messageBus, policyEngine, runner, isoBackend, settings, cfg.TemplateDir)

	h := v1.NewHandler(orch)

	server := echo.New()
	server.HideBanner = true
	server.Use(middleware.Logger())
	server.Use(middleware.Recover())
	server.Use(middleware.CORS())
	h.RegisterRoutes(server)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()
	log.Printf("HTTP API started on port %d", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down swarmctl...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown HTTP server gracefully: %v", err)
	}
	log.Println("swarmctl stopped")
}
