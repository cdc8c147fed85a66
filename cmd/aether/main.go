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

// Command aether runs the agent orchestration service.
//
// Usage:
//
//	aether serve --config config.yaml
//	aether chat --system "You are concise"
//	aether validate --config config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	aether "github.com/aetherframe/aether"
	"github.com/aetherframe/aether/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version    VersionCmd    `cmd:"" help:"Show version information."`
	Serve      ServeCmd      `cmd:"" help:"Start the HTTP server."`
	Chat       ChatCmd       `cmd:"" help:"Chat with a local agent from the terminal."`
	Validate   ValidateCmd   `cmd:"" help:"Validate a configuration file."`
	ShowConfig ShowConfigCmd `cmd:"" name:"show-config" help:"Print the effective configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, text, json)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(aether.GetVersion().String())
	return nil
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("aether"),
		kong.Description("Aether Frame - framework-agnostic agent orchestration"),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	ctx.FatalIfErrorf(ctx.Run(&cli))
}
