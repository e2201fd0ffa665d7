package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"binportal/internal/config"
	"binportal/internal/imagebuild"
	"binportal/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	var (
		contextDir = flag.String("context", ".", "build context directory (the repository root)")
		printOnly  = flag.Bool("print", false, "print the generated Dockerfile and exit")
		timeout    = flag.Duration("timeout", 20*time.Minute, "overall build timeout")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *printOnly {
		fmt.Print(imagebuild.Generate(cfg.Image))
		return
	}

	logger := logger.NewLogger(&logger.Config{
		Level:  "info",
		Format: "console",
		Output: "stdout",
	})

	builder, err := imagebuild.NewBuilder(cfg.Image, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create image builder")
	}
	defer builder.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := builder.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Docker daemon unreachable")
	}

	// A broken runtime image is fatal; there is no degraded mode to fall
	// back to.
	if err := builder.Build(ctx, *contextDir); err != nil {
		logger.Error().Err(err).Msg("Image build failed")
		os.Exit(1)
	}
}
