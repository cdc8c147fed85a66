// Copyright 2026 The Aether Frame Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/aetherframe/aether/pkg/config"
	"github.com/aetherframe/aether/pkg/server"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)." default:"0"`
	Watch bool `help:"Watch config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	loader := config.NewLoader(config.LoaderOptions{
		Path:  cli.Config,
		Watch: c.Watch,
		OnChange: func(cfg *config.Config) {
			slog.Info("Configuration reloaded", "path", cli.Config)
		},
	})
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer loader.Close()

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	stack, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	srv := server.New(cfg.Server, stack.Assistant, stack.Observability)

	fmt.Printf("\nAether Frame server ready\n")
	fmt.Printf("   Tasks:    http://%s/v1/tasks\n", cfg.Server.Address())
	fmt.Printf("   Live:     http://%s/v1/tasks/live\n", cfg.Server.Address())
	fmt.Printf("   Health:   http://%s/healthz\n", cfg.Server.Address())
	if cfg.Observability.Enabled {
		fmt.Printf("   Metrics:  http://%s%s\n", cfg.Server.Address(), cfg.Observability.MetricsPath)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}

// ValidateCmd checks a configuration file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}
	loader := config.NewLoader(config.LoaderOptions{Path: cli.Config})
	if _, err := loader.Load(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	defer loader.Close()
	fmt.Printf("%s is valid\n", cli.Config)
	return nil
}

// ShowConfigCmd prints the effective configuration after defaults, file,
// and environment layering.
type ShowConfigCmd struct{}

func (c *ShowConfigCmd) Run(cli *CLI) error {
	loader := config.NewLoader(config.LoaderOptions{Path: cli.Config})
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer loader.Close()

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
