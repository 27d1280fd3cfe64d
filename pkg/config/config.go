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

// Package config loads the module's ambient configuration: a YAML file
// for roles, policy limits and observability settings, a .env file for
// provider credentials, and optional hot-reload when the YAML file
// changes on disk.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/signalforge/cortex/pkg/observability"
	"github.com/signalforge/cortex/pkg/rules/policy"
)

// RoleConfig is one named role's base token budget and persona text, read
// by the instruction composer via pkg/instruction.Input.RoleBaseTokens /
// SystemPersona.
type RoleConfig struct {
	BaseTokens int    `yaml:"baseTokens"`
	Persona    string `yaml:"persona"`
}

// Config is the module's root configuration document.
type Config struct {
	Roles         map[string]RoleConfig `yaml:"roles"`
	Limits        policy.Limits         `yaml:"limits"`
	Observability observability.Config  `yaml:"observability"`
	ApprovalTimeoutSeconds int          `yaml:"approvalTimeoutSeconds"`
}

// defaults mirrors the zero-value limits a freshly unmarshaled Config
// might have if the file omits the section entirely.
func (c *Config) setDefaults() {
	if c.Limits == (policy.Limits{}) {
		c.Limits = policy.DefaultLimits
	}
	if c.ApprovalTimeoutSeconds <= 0 {
		c.ApprovalTimeoutSeconds = 300
	}
}

// Load reads and parses the YAML config at path and the optional .env
// file at envPath (a missing env file is ignored; any other error loading
// it is logged and ignored).
func Load(path, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("config: failed to load env file", "path", envPath, "error", err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

// Watcher holds the live, hot-reloadable Config plus the fsnotify watch
// that keeps it current.
type Watcher struct {
	path    string
	envPath string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	onError func(error)
}

// NewWatcher loads path once and starts watching it for changes. onError,
// if non-nil, is called with reload failures (the previous config stays
// live in that case).
func NewWatcher(path, envPath string, onError func(error)) (*Watcher, error) {
	cfg, err := Load(path, envPath)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{path: path, envPath: envPath, watcher: fw, onError: onError}
	w.current.Store(cfg)

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(fmt.Errorf("config: watch error: %w", err))
			}
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg, err := Load(w.path, w.envPath)
	if err != nil {
		slog.Warn("config: hot-reload failed, keeping previous config", "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.current.Store(cfg)
	slog.Info("config: reloaded", "path", w.path)
}

// Current returns the most recently loaded Config. Safe for concurrent
// use with reloads in progress.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Close stops the underlying fsnotify watch.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
