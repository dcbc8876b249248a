package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"comfyrun/internal/api"
	"comfyrun/internal/auth"
	"comfyrun/internal/comfy"
	"comfyrun/internal/config"
	"comfyrun/internal/logging"
	"comfyrun/internal/mcp"
	"comfyrun/internal/repository"
	"comfyrun/internal/runner"
	"comfyrun/internal/services"
	"comfyrun/internal/tls"
	"comfyrun/internal/workflow"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Parse command line flags
	envFile := flag.String("env", "", "Path to .env file")
	configFile := flag.String("config", "", "Path to config.yaml")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("Loading %s failed: %v", *envFile, err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	// Initialize logging
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	logger.Info("Configuration loaded",
		"config_file", cfg.ConfigFile,
		"comfy_url", cfg.Comfy.BaseURL,
		"workflows_dir", cfg.Workflows.Dir,
		"database", cfg.HasDatabase(),
	)

	// Initialize run history
	store, closeStore, err := repository.Open(ctx, cfg.DSN())
	if err != nil {
		logger.Error("Failed to initialize run store", "error", err)
		log.Fatalf("Run store initialization failed: %v", err)
	}
	defer closeStore()

	// Initialize service layer
	client := comfy.NewClient(comfy.Options{
		BaseURL:             cfg.Comfy.BaseURL,
		Username:            cfg.Comfy.Username,
		Password:            cfg.Comfy.Password,
		Timeout:             cfg.Comfy.Timeout,
		Logger:              logger.With("component", "comfy"),
		DownloadConcurrency: cfg.Comfy.DownloadConcurrency,
	})
	runService, err := services.NewRunService(store, client, services.RunOptions{
		PollInterval: cfg.Comfy.PollInterval,
		MaxWait:      cfg.Comfy.MaxWait,
	}, logger.With("component", "runs"))
	if err != nil {
		log.Fatalf("Service initialization failed: %v", err)
	}
	runs := runner.New(ctx, runService)
	catalog := workflow.NewCatalog(cfg.Workflows.Dir)

	logger.Info("Service layer initialized")

	// Initialize authentication
	authz, err := auth.New(ctx, cfg.Auth.Issuer, cfg.Auth.Audience, logger.With("component", "auth"))
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		log.Fatalf("auth initialization failed: %v", err)
	}
	logger.Info("Authentication configured", "enabled", authz.Enabled(), "issuer", cfg.Auth.Issuer)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler

	// Middleware
	e.Use(otelecho.Middleware("comfyrun"))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Mount REST API handlers
	api.RegisterHealth(e, api.NewHandler(store, version))
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, api.NewServer(catalog, runService, runs),
		echo.WrapMiddleware(authz.RequireScope(auth.ScopeRunsWrite)))

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(catalog, runs, version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	mcpHandler := echo.WrapHandler(authz.RequireAuth(mcpHandlers))
	e.Any("/mcp", mcpHandler)
	e.Any("/mcp/*", mcpHandler)

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server. No write timeout: SSE streams and run_workflow
	// calls stay open for the length of a run.
	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     e,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr, "tls", cfg.Server.TLS.Enable)
		if !cfg.Server.TLS.Enable {
			serverErrors <- server.ListenAndServe()
			return
		}
		created, err := tls.EnsureCert(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, cfg.Server.TLS.Hostnames)
		if err != nil {
			serverErrors <- err
			return
		}
		if created {
			logger.Info("Generated self-signed certificate", "cert_file", cfg.Server.TLS.CertFile, "hostnames", cfg.Server.TLS.Hostnames)
		}
		serverErrors <- server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			closeStore()
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		// abort the in-flight run's polling
		stop()

		// Create shutdown context with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}
