package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/civichain/votegate/internal/auth"
	"github.com/civichain/votegate/internal/capture"
	"github.com/civichain/votegate/internal/chain"
	"github.com/civichain/votegate/internal/config"
	"github.com/civichain/votegate/internal/handlers"
	"github.com/civichain/votegate/internal/inference"
	"github.com/civichain/votegate/internal/ledger"
	middlewareCustom "github.com/civichain/votegate/internal/middleware"
	"github.com/civichain/votegate/internal/orchestrator"
	"github.com/civichain/votegate/internal/registry"
	"github.com/civichain/votegate/internal/routes"
	"github.com/civichain/votegate/internal/verifier"
	pkglogger "github.com/civichain/votegate/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	cascadeFile = "haarcascade_frontalface_default.xml"
	modelFile   = "openface.nn4.small2.v1.t7"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Inference runtime: load both models once, up front.
	tracker := inference.NewTracker(cfg.Capture.BufferCeiling, logger)
	runtime := inference.NewGoCVRuntime(
		filepath.Join(cfg.Verify.ModelDir, cascadeFile),
		filepath.Join(cfg.Verify.ModelDir, modelFile),
		tracker,
		logger,
	)

	warmupCtx, warmupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := runtime.Warmup(warmupCtx); err != nil {
		logger.Error("failed to load inference models", slog.Any("error", err))
		warmupCancel()
		os.Exit(1)
	}
	warmupCancel()
	defer runtime.Close()

	// Capture
	device := capture.NewWebcam(cfg.Capture.DeviceID)
	captures := capture.NewManager(device, runtime,
		cfg.Capture.DetectionInterval, cfg.Capture.FailureCooldown, logger)

	// Verification backend
	client := verifier.NewClient(verifier.ClientConfig{
		BaseURL:        cfg.Backend.BaseURL,
		APIKey:         cfg.Backend.APIKey,
		Timeout:        cfg.Backend.Timeout,
		MaxAttempts:    cfg.Backend.MaxAttempts,
		InitialBackoff: cfg.Backend.InitialBackoff,
	}, logger)

	credentialVerifier := verifier.NewCredentialVerifier(client, cfg.Verify.OTPTTL, logger)
	otpVerifier := verifier.NewOTPVerifier(client, logger)
	faceVerifier := verifier.NewFaceVerifier(client, runtime,
		verifier.DeployMode(cfg.Verify.DeployMode), cfg.Verify.FaceThreshold, logger)

	// Election binding: on-chain when an RPC endpoint is configured,
	// in-process otherwise.
	var binding chain.Binding
	if cfg.Chain.RPCURL != "" {
		dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
		eth, err := chain.NewEthBinding(dialCtx, chain.EthConfig{
			RPCURL:          cfg.Chain.RPCURL,
			ContractAddress: cfg.Chain.ContractAddress,
			AdminPrivateKey: cfg.Chain.AdminPrivateKey,
			ChainID:         cfg.Chain.ChainID,
		})
		dialCancel()
		if err != nil {
			logger.Error("failed to bind election contract", slog.Any("error", err))
			os.Exit(1)
		}
		defer eth.Close()
		binding = eth
		logger.Info("election contract bound", slog.String("address", cfg.Chain.ContractAddress))
	} else {
		binding = chain.NewMemoryElection(cfg.Chain.Candidates, cfg.Chain.ValidityPeriod)
		logger.Warn("no CHAIN_RPC_URL configured, using in-memory election")
	}

	// Pipeline
	attempts := ledger.NewAttemptLedger(cfg.Verify.MaxAttempts, logger)
	tokens := auth.NewSessionTokenManager(cfg.Verify.JWTSecret, cfg.Verify.TokenValidity)
	orch := orchestrator.New(attempts, credentialVerifier, otpVerifier, faceVerifier,
		captures, tokens, binding, logger)
	defer orch.Teardown()

	// Reference-image registry for operator endpoints
	store, err := registry.NewStore(cfg.Verify.ReferenceImageDir, logger)
	if err != nil {
		logger.Error("failed to open reference-image registry", slog.Any("error", err))
		os.Exit(1)
	}

	// Demo identities come from the backend outside production; the
	// live strategy always refuses.
	var identities handlers.IdentitySource
	if cfg.Server.Env == "production" {
		identities = verifier.LiveProvider{}
	} else {
		identities = verifier.NewTestProvider(client)
	}

	// Initialize handlers
	auditLogger := pkglogger.NewAuditLogger(logger)
	sessionHandler := handlers.NewSessionHandler(orch, capture.NullDisplay{}, auditLogger, nil, identities)
	registryHandler := handlers.NewRegistryHandler(store)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, sessionHandler, registryHandler, cfg.Server.AdminAPIKey)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	// Release the camera and every tracked buffer before the listener
	// goes down; an interrupted run must not leave tracks open.
	orch.Teardown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
