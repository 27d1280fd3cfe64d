// Copyright 2025 Kadir Pekel
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

// Command cortex is the CLI entrypoint for the orchestration engine.
//
// Usage:
//
//	cortex chat --config config.yaml
//	cortex version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	cortex "github.com/signalforge/cortex"
	"github.com/signalforge/cortex/pkg/approval"
	"github.com/signalforge/cortex/pkg/config"
	"github.com/signalforge/cortex/pkg/logger"
	"github.com/signalforge/cortex/pkg/model"
	"github.com/signalforge/cortex/pkg/model/providerhttp"
	"github.com/signalforge/cortex/pkg/observability"
	"github.com/signalforge/cortex/pkg/rules/policy"
	"github.com/signalforge/cortex/pkg/toolset"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Chat    ChatCmd    `cmd:"" help:"Start an interactive chat session."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"cortex.yaml"`
	EnvFile   string `help:"Path to .env file." type:"path" default:".env"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("cortex version %s\n", version)
	return nil
}

// ChatCmd starts an interactive chat session against the turn engine.
type ChatCmd struct {
	Provider           string  `help:"LLM provider name (openai, anthropic, ...)." default:"openai"`
	Model              string  `help:"Model name." default:"gpt-4o-mini"`
	APIKey             string  `name:"api-key" help:"API key (defaults to OPENAI_API_KEY env var)."`
	BaseURL            string  `name:"base-url" help:"API base URL." default:"https://api.openai.com/v1"`
	Temperature        float64 `help:"Sampling temperature." default:"0.7"`
	WorkingDirectory   string  `name:"working-dir" help:"Working directory the file tools are confined to." type:"path" default:"."`
	ApprovalTimeoutSec int     `name:"approval-timeout" help:"Seconds to wait for a pending approval before denying it." default:"300"`
	CACertificate      string  `name:"ca-cert" help:"Path to a custom CA certificate for the provider endpoint." type:"path"`
	InsecureSkipVerify bool    `name:"insecure-skip-verify" help:"Skip TLS certificate verification (development only)."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("cortex: shutting down")
		cancel()
	}()

	cfg, err := config.Load(cli.Config, cli.EnvFile)
	if err != nil {
		slog.Warn("cortex: no config file loaded, using built-in defaults", "error", err)
		cfg = &config.Config{Limits: policy.DefaultLimits, ApprovalTimeoutSeconds: c.ApprovalTimeoutSec}
	}

	obsManager, err := observability.NewFromConfig(ctx, &cfg.Observability)
	if err != nil {
		return fmt.Errorf("cortex: observability: %w", err)
	}
	defer obsManager.Shutdown(context.Background())

	apiKey := c.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	llm := providerhttp.New(providerhttp.Config{
		Name:               c.Model,
		Provider:           model.Provider(c.Provider),
		BaseURL:            c.BaseURL,
		APIKey:             apiKey,
		Model:              c.Model,
		Temperature:        c.Temperature,
		CACertificate:      c.CACertificate,
		InsecureSkipVerify: c.InsecureSkipVerify,
	})
	defer llm.Close()

	tools, err := toolset.New(toolset.Config{WorkingDirectory: c.WorkingDirectory})
	if err != nil {
		return fmt.Errorf("cortex: toolset: %w", err)
	}

	timeout := time.Duration(cfg.ApprovalTimeoutSeconds) * time.Second
	if c.ApprovalTimeoutSec > 0 {
		timeout = time.Duration(c.ApprovalTimeoutSec) * time.Second
	}
	coordinator := approval.NewCoordinator(timeout)

	engine, err := cortex.New(llm, tools, coordinator, obsManager.Tracer(), cfg.Limits)
	if err != nil {
		return fmt.Errorf("cortex: build engine: %w", err)
	}

	return runChatLoop(ctx, engine, coordinator)
}

func run() error {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("cortex"),
		kong.Description("Cognitive orchestration engine CLI."),
		kong.UsageOnError(),
	)

	level, file, format, cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	_ = level
	_ = file
	_ = format

	return kctx.Run(&cli)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
