package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-green-corridor/internal/api"
	"github.com/mr1hm/go-green-corridor/internal/audit"
	"github.com/mr1hm/go-green-corridor/internal/auth"
	"github.com/mr1hm/go-green-corridor/internal/config"
	"github.com/mr1hm/go-green-corridor/internal/dispatch"
	internalgrpc "github.com/mr1hm/go-green-corridor/internal/grpc"
	"github.com/mr1hm/go-green-corridor/internal/ingestion"
	"github.com/mr1hm/go-green-corridor/internal/logging"
	"github.com/mr1hm/go-green-corridor/internal/metrics"
	"github.com/mr1hm/go-green-corridor/internal/registry"
	"github.com/mr1hm/go-green-corridor/internal/schema"
	"github.com/mr1hm/go-green-corridor/internal/session"
	"github.com/mr1hm/go-green-corridor/internal/store"
	"github.com/mr1hm/go-green-corridor/internal/upload"
	"github.com/mr1hm/go-green-corridor/internal/wizard"
)

const wizardSweepInterval = time.Minute

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	if dir := filepath.Dir(cfg.DB.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Fatalf("Failed to create data directory: %v", err)
		}
	}
	db, err := store.NewSQLiteStore(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	validator, err := schema.Default()
	if err != nil {
		logging.Fatalf("Failed to load document schemas: %v", err)
	}

	authOpts := auth.LocalOptions{
		Secret:         []byte(cfg.Auth.JWTSecret),
		TokenTTL:       cfg.Auth.TokenTTL,
		RevocationSize: cfg.Auth.RevocationCacheSize,
	}
	if cfg.Auth.FederatedPublicKey != "" {
		pem, err := os.ReadFile(cfg.Auth.FederatedPublicKey)
		if err != nil {
			logging.Fatalf("Failed to read federated public key: %v", err)
		}
		authOpts.Federated, err = auth.NewFederatedVerifier(pem, cfg.Auth.FederatedIssuer)
		if err != nil {
			logging.Fatalf("Failed to load federated public key: %v", err)
		}
	}
	provider, err := auth.NewLocal(db, authOpts)
	if err != nil {
		logging.Fatalf("Failed to initialize authentication: %v", err)
	}

	m := metrics.New()
	reg := registry.New(db, validator, audit.NewRecorder(db))
	resolver := session.NewResolver(db, validator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wizards := wizard.NewManager(reg, wizard.Options{LocateTimeout: cfg.Wizard.LocateTimeout}, cfg.Wizard.SessionTTL)
	wizardsDone := make(chan struct{})
	go func() {
		defer close(wizardsDone)
		wizards.Run(ctx, wizardSweepInterval)
	}()
	m.GaugeFunc("wizard_sessions", "Open installation wizard sessions.", func() float64 {
		return float64(wizards.Count())
	})

	// Monitor mirrors every delivered notification to admin streams
	monitor := internalgrpc.NewBroadcaster[dispatch.Notification]()
	dispatcher := dispatch.New(resolver, db, validator,
		dispatch.WithRecencyWindow(cfg.Dispatch.RecencyWindow),
		dispatch.WithObserver(monitor.Broadcast),
		dispatch.WithObserver(func(n dispatch.Notification) {
			m.RecordNotification(string(n.Role), string(n.Alert.Type))
		}),
	)

	// Start ingestion manager
	mgr := ingestion.NewManager(cfg, db, validator,
		ingestion.NewFeedClient(cfg.Ingestion.FeedURL, 15*time.Second), m.RecordIngested)
	mgr.Start(ctx)

	// Start gRPC server
	grpcServer := internalgrpc.NewServer(provider, reg, dispatcher, monitor, m)
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware(m))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS))

	handler := api.NewHandler(api.Deps{
		Auth:       provider,
		Registry:   reg,
		Profiles:   resolver,
		Locks:      session.NewNavigationLocks(),
		Wizards:    wizards,
		Dispatcher: dispatcher,
		Monitor:    monitor,
		Uploader:   upload.NewClient(cfg.Upload.URL, cfg.Upload.APIKey, cfg.Upload.Timeout),
		Metrics:    m,
		Map:        cfg.Map,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	monitor.Close()
	grpcServer.Stop()
	<-wizardsDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
