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

package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. A double underscore
// separates nesting levels: AETHER_SERVER__PORT sets server.port.
const EnvPrefix = "AETHER_"

// watchDebounce coalesces bursts of filesystem events into one reload.
const watchDebounce = 200 * time.Millisecond

// LoaderOptions tunes a Loader.
type LoaderOptions struct {
	// Path is the YAML config file. Empty means defaults + env only.
	Path string

	// Watch reloads the file on change and calls OnChange with the new
	// config. Invalid reloads are logged and skipped; the previous config
	// stays in effect.
	Watch bool

	// OnChange receives each successfully reloaded config.
	OnChange func(*Config)
}

// Loader builds Configs from defaults, file, and environment.
type Loader struct {
	options LoaderOptions

	mu      sync.Mutex
	current *Config
	watcher *fsnotify.Watcher
	stop    chan struct{}
	stopped sync.Once
}

// NewLoader creates a loader.
func NewLoader(opts LoaderOptions) *Loader {
	return &Loader{options: opts, stop: make(chan struct{})}
}

// Load reads the layered configuration and starts the watcher when
// requested.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.read()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()

	if l.options.Watch && l.options.Path != "" {
		if err := l.startWatch(); err != nil {
			return nil, fmt.Errorf("config watch: %w", err)
		}
	}
	return cfg, nil
}

// Current returns the most recently loaded config.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Close stops the watcher.
func (l *Loader) Close() error {
	var err error
	l.stopped.Do(func() {
		close(l.stop)
		if l.watcher != nil {
			err = l.watcher.Close()
		}
	})
	return err
}

func (l *Loader) read() (*Config, error) {
	k := koanf.New(".")

	if l.options.Path != "" {
		if err := k.Load(file.Provider(l.options.Path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", l.options.Path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps AETHER_SERVER__PORT to server.port. Single underscores are
// part of the key name; double underscores separate levels.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// startWatch watches the config file's directory, so editors that
// replace the file atomically still trigger a reload.
func (l *Loader) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(l.options.Path)); err != nil {
		watcher.Close()
		return err
	}
	l.watcher = watcher

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	target := filepath.Clean(l.options.Path)
	var timer *time.Timer

	for {
		select {
		case <-l.stop:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, l.reload)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}

func (l *Loader) reload() {
	cfg, err := l.read()
	if err != nil {
		slog.Warn("Config reload failed; keeping previous config", "path", l.options.Path, "error", err)
		return
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()

	slog.Info("Config reloaded", "path", l.options.Path)
	if l.options.OnChange != nil {
		l.options.OnChange(cfg)
	}
}
