// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// lockTimeout is the maximum time to wait for the token cache file lock.
const lockTimeout = 1 * time.Second

// CachedSession is the durable remainder of a session. Only the refresh
// token is kept; access tokens are regenerated from it.
type CachedSession struct {
	RefreshToken string    `yaml:"refresh_token"`
	LoginID      string    `yaml:"login_id,omitempty"`
	Expiry       time.Time `yaml:"expiry,omitempty"`
}

// TokenCache persists refresh tokens across process restarts so a prior
// session can be restored without a new sign-in.
type TokenCache interface {
	// Load returns the cached session, or nil when none exists.
	Load(ctx context.Context) (*CachedSession, error)

	// Save stores the session, replacing any previous one.
	Save(ctx context.Context, session *CachedSession) error

	// Clear removes the cached session. Clearing an empty cache is not an error.
	Clear(ctx context.Context) error
}

// FileTokenCache implements TokenCache on the local filesystem, guarded by a
// file lock against concurrent CLI invocations.
type FileTokenCache struct {
	path string
}

// NewFileTokenCache creates a token cache at the given path.
func NewFileTokenCache(path string) *FileTokenCache {
	return &FileTokenCache{path: path}
}

// DefaultTokenCachePath returns the XDG state path for the token cache.
func DefaultTokenCachePath() (string, error) {
	return xdg.StateFile("liftcv/tokens.yaml")
}

// Load returns the cached session, or nil when none exists.
func (f *FileTokenCache) Load(_ context.Context) (*CachedSession, error) {
	// #nosec G304 - the path is fixed at construction time
	data, err := os.ReadFile(path.Clean(f.path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token cache: %w", err)
	}

	var session CachedSession
	if err := yaml.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	if session.RefreshToken == "" {
		return nil, nil
	}
	return &session, nil
}

// Save stores the session, replacing any previous one.
func (f *FileTokenCache) Save(ctx context.Context, session *CachedSession) error {
	return f.withLock(ctx, func() error {
		data, err := yaml.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to serialize token cache: %w", err)
		}
		if err := os.MkdirAll(path.Dir(f.path), 0700); err != nil {
			return fmt.Errorf("failed to create token cache directory: %w", err)
		}
		if err := os.WriteFile(f.path, data, 0600); err != nil {
			return fmt.Errorf("failed to write token cache: %w", err)
		}
		return nil
	})
}

// Clear removes the cached session.
func (f *FileTokenCache) Clear(ctx context.Context) error {
	return f.withLock(ctx, func() error {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove token cache: %w", err)
		}
		return nil
	})
}

// withLock runs fn while holding the cache's file lock.
func (f *FileTokenCache) withLock(ctx context.Context, fn func() error) error {
	// Use a separate lock file for cross-platform compatibility
	fileLock := flock.New(f.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire token cache lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire token cache lock: timeout after %v", lockTimeout)
	}
	defer fileLock.Unlock()

	return fn()
}
