package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenTeleopCore/internal/auth"
	"github.com/KevinKickass/OpenTeleopCore/internal/config"
	"github.com/KevinKickass/OpenTeleopCore/internal/system"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file (empty for defaults)")
	issueToken := flag.String("issue-token", "", "print a signed token for this operator and exit")
	role := flag.String("role", string(auth.RoleOperator), "role of the issued token (operator or observer)")
	flag.Parse()

	// Logger initialisieren
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Config laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	if *issueToken != "" {
		jwt := auth.NewJWTHandler(cfg.Auth.GetJWTSecret(), cfg.Auth.TokenTTL)
		token, err := jwt.GenerateToken(*issueToken, auth.Role(*role))
		if err != nil {
			logger.Fatal("Failed to issue token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	// Lifecycle Manager
	lifecycle, err := system.NewLifecycleManager(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create lifecycle manager", zap.Error(err))
	}

	// System starten
	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("OpenTeleopCore started successfully")

	// Graceful Shutdown auf Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// SIGHUP deactivates teleoperation and keeps the daemon running
	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			break
		}
		if err := lifecycle.Deactivate(); err != nil {
			logger.Warn("Deactivation failed", zap.Error(err))
		}
	}
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenTeleopCore stopped successfully")
}
