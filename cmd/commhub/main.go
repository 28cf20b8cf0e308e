package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"commhub/internal/retention"
	"commhub/pkg/api"
	"commhub/pkg/auth"
	"commhub/pkg/banner"
	"commhub/pkg/config"
	"commhub/pkg/hub"
	"commhub/pkg/logger"
	"commhub/pkg/shutdown"
	"commhub/pkg/store"
)

// build metadata, set via ldflags on release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, signingKeys, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		shutdown.Abort("failed to load config", err, "")
	}

	// explicit flags win over env and file
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	dbPath := cfg.Server.DBPath
	if dbPath == "" || setFlags["db"] {
		dbPath = dbVal
	}

	logger.Init(cfg.Logging.Level)
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: signingKeys})

	if err := store.Open(dbPath); err != nil {
		shutdown.Abort("failed to open pebble", err, dbPath)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store_close_failed", "error", err)
		}
	}()

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	stopRetention, err := retention.Start(ctx, cfg.Retention)
	if err != nil {
		shutdown.Abort("failed to start retention", err, dbPath)
	}
	defer stopRetention()

	registry := hub.NewRegistry()
	router := hub.NewRouter(registry)
	gateway := hub.NewGateway(router, cfg.Realtime)

	handler := api.NewHandler(api.Deps{
		Router:  router,
		Gateway: gateway,
		Middleware: auth.MiddlewareConfig{
			AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
			RPS:            cfg.Security.RateLimit.RPS,
			Burst:          cfg.Security.RateLimit.Burst,
		},
	})

	srcs := []string{}
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if cfgPath != "" {
		if _, err := config.Load(cfgPath); err == nil {
			srcs = append(srcs, "file")
		}
	}
	verStr := version
	if commit != "none" {
		verStr += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr += " @ " + buildDate
	}
	banner.Print(cfg, addr, dbPath, strings.Join(srcs, ", "), verStr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		cert, key := cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
		if cert != "" && key != "" {
			logger.Info("listening", "addr", addr, "tls", true)
			errc <- srv.ListenAndServeTLS(cert, key)
			return
		}
		logger.Info("listening", "addr", addr, "tls", false)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdown.Abort("listener failed", err, dbPath)
		}
	case <-ctx.Done():
		logger.Info("shutting_down")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutCancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Error("shutdown_incomplete", "error", err)
		}
	}
	logger.Info("stopped")
}
