package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bbye98/minim/internal/shared"
	"github.com/bbye98/minim/internal/tokens"
	"github.com/urfave/cli/v3"
)

// Setup initializes the configuration file and token database schema.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); err == nil {
		config, err := shared.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		r.config = config
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		r.logger.Info("config file created", "path", configPath)
		config, err := shared.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load created config: %w", err)
		}
		r.config = config
	}

	r.logger.Info("initializing token storage", "path", r.config.Store.Path)

	db, err := shared.NewDatabase(r.config.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Store.MaxOpenConns, r.config.Store.MaxIdleConns)

	store, err := tokens.NewStore(db)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize token storage: %w", err)
	}

	r.db = db
	r.store = store

	r.logger.Infof("setup complete for token storage: %v", r.config.Store.Path)
	return r.writePlain("✓ Setup complete\n")
}
