package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/JakeFAU/tech-intel-harvester/internal/config"
	"github.com/JakeFAU/tech-intel-harvester/internal/logging"
	"github.com/JakeFAU/tech-intel-harvester/internal/pipeline"
	"github.com/JakeFAU/tech-intel-harvester/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	envPath := flag.String("env", ".env", "Path to a dotenv file loaded before config")
	once := flag.Bool("once", false, "Execute a single run and exit")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load env file failed: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger, *once); err != nil {
		logger.Error("harvester exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger, once bool) error {
	ctx := context.Background()
	app, err := server.Build(ctx, &cfg, logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	if !once {
		return app.Run(ctx)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer app.Close(context.WithoutCancel(ctx))

	record, runErr := app.RunOnce(ctx, pipeline.RunParameters{})
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	return runErr
}
