package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yang123apple/EHS-system-sub002/internal/config"
	"github.com/yang123apple/EHS-system-sub002/internal/container"
	httpapi "github.com/yang123apple/EHS-system-sub002/internal/interfaces/http"
	"github.com/yang123apple/EHS-system-sub002/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "ehs-workflow",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting EHS workflow service",
		zap.String("driver", cfg.Database.Driver),
		zap.Int("port", cfg.Server.Port))

	containerCfg := cfg.ToContainerConfig()
	c, err := container.NewContainer(containerCfg, logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		logger.Error("Failed to start container", zap.Error(err))
		_ = c.Close()
		os.Exit(1)
	}

	services := c.Services()
	server := httpapi.NewServer(
		httpapi.ServerConfig{
			Host:           containerCfg.Server.Host,
			Port:           containerCfg.Server.Port,
			ReadTimeout:    containerCfg.Server.ReadTimeout,
			WriteTimeout:   containerCfg.Server.WriteTimeout,
			MaxUploadBytes: containerCfg.Server.MaxUploadBytes,
		},
		httpapi.AuthConfig{
			JWTSecret: containerCfg.Auth.JWTSecret,
			Issuer:    containerCfg.Auth.Issuer,
			TokenTTL:  containerCfg.Auth.TokenTTL,
		},
		httpapi.Services{
			Items:         services.Items,
			Queries:       services.Queries,
			Definitions:   services.Definitions,
			Visibility:    services.Visibility,
			Org:           services.Org,
			Notifications: services.Notifications,
		},
		func(ctx context.Context) (bool, interface{}) {
			status := c.Health(ctx)
			return status.Overall, status
		},
		container.NewServiceLogger(logger.Named("http")),
	)

	// Start blocks until the signal context is cancelled, then shuts the listener down
	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server stopped", zap.Error(err))
	}

	if err := c.Close(); err != nil {
		logger.Error("Container closed with errors", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
