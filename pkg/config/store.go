// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/liftcv/liftcv/pkg/logger"
)

// lockTimeout is the maximum time to wait for a file lock
const lockTimeout = 1 * time.Second

// Store defines the interface for configuration storage operations.
type Store interface {
	Load() (*Config, error)
	Save(config *Config) error
	Exists() (bool, error)
	Update(updateFn func(*Config)) error
}

// LocalStore implements Store using the local file system.
type LocalStore struct {
	configPath string
}

// NewLocalStore creates a new local file-based configuration store.
func NewLocalStore(configPath string) *LocalStore {
	return &LocalStore{configPath: configPath}
}

// NewConfigStore creates a store at the default XDG config path.
func NewConfigStore() (Store, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, fmt.Errorf("unable to fetch config path: %w", err)
	}
	return NewLocalStore(configPath), nil
}

// Load reads the configuration, writing a fresh default file when none
// exists yet.
func (s *LocalStore) Load() (*Config, error) {
	configPath := path.Clean(s.configPath)

	if _, err := os.Stat(configPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		config := createNewConfigWithDefaults()
		logger.Debugf("initializing configuration file at %s", configPath)
		if err := s.Save(&config); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return &config, nil
	}

	// #nosec G304: File path is not configurable at this time.
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// Save serializes the config struct and writes it to disk.
func (s *LocalStore) Save(config *Config) error {
	configBytes, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("error serializing config file: %w", err)
	}
	if err := os.WriteFile(path.Clean(s.configPath), configBytes, 0600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Exists checks whether a config file has been written.
func (s *LocalStore) Exists() (bool, error) {
	_, err := os.Stat(path.Clean(s.configPath))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat config file: %w", err)
}

// Update performs a locked read-modify-write on the configuration so
// concurrent processes do not clobber each other's changes.
func (s *LocalStore) Update(updateFn func(*Config)) error {
	lock := flock.New(s.configPath + ".lock")
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warnf("failed to release config lock: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire config lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("timed out waiting for config lock")
	}

	config, err := s.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	updateFn(config)

	if err := s.Save(config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
