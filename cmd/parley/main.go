package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	approuters "Parley/internal/app_routers"
	"Parley/internal/configuration"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, identity string

	flagSet := pflag.NewFlagSet("parley", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "shared/config.dev.json", "path to the JSON configuration file")
	flagSet.StringVar(&identity, "identity", "", "user to sign in as (overrides the config file)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	config, err := configuration.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if identity != "" {
		config.Identity = identity
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	container, err := configuration.BuildContainer(ctx, config)
	cancel()
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	// Ensure cleanup on shutdown
	defer func() {
		if err := container.Close(); err != nil {
			container.Logger.Error("shutdown", zap.Error(err))
		}
	}()

	if err := container.Session.Start(context.Background()); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	approuters.StartServer(container)
	return nil
}
