// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package environment

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

// lockTimeout is the maximum time to wait for a state file lock.
const lockTimeout = 1 * time.Second

// Local implements Environment on the local filesystem following the XDG
// Base Directory Specification. Facts and redirect deposits live in separate
// files so clearing one never loses the other.
type Local struct {
	factsPath    string
	redirectPath string
}

// NewLocal creates a filesystem-backed environment rooted at the given paths.
func NewLocal(factsPath, redirectPath string) *Local {
	return &Local{factsPath: factsPath, redirectPath: redirectPath}
}

// NewDefaultLocal creates a filesystem-backed environment at the XDG state paths.
func NewDefaultLocal() (*Local, error) {
	factsPath, err := xdg.StateFile("liftcv/session.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session state path: %w", err)
	}
	redirectPath, err := xdg.StateFile("liftcv/callback.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve callback state path: %w", err)
	}
	return NewLocal(factsPath, redirectPath), nil
}

// RedirectParams returns the pending OAuth callback deposit, or nil when none exists.
func (l *Local) RedirectParams(_ context.Context) (*RedirectParams, error) {
	// #nosec G304 - the path is fixed at construction time
	data, err := os.ReadFile(path.Clean(l.redirectPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read callback deposit: %w", err)
	}

	var params RedirectParams
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to parse callback deposit: %w", err)
	}
	if params.Code == "" && params.Err == "" {
		return nil, nil
	}
	return &params, nil
}

// SaveRedirectParams deposits OAuth callback parameters for the next
// bootstrap to consume. Called by the callback listener, not by the session
// manager.
func (l *Local) SaveRedirectParams(ctx context.Context, params *RedirectParams) error {
	return writeLocked(ctx, l.redirectPath, params)
}

// ClearRedirectParams removes the pending deposit.
func (l *Local) ClearRedirectParams(ctx context.Context) error {
	return removeLocked(ctx, l.redirectPath)
}

// Facts returns the persisted session facts, zero when never written.
func (l *Local) Facts(_ context.Context) (Facts, error) {
	// #nosec G304 - the path is fixed at construction time
	data, err := os.ReadFile(path.Clean(l.factsPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Facts{}, nil
		}
		return Facts{}, fmt.Errorf("failed to read session facts: %w", err)
	}

	var facts Facts
	if err := yaml.Unmarshal(data, &facts); err != nil {
		return Facts{}, fmt.Errorf("failed to parse session facts: %w", err)
	}
	return facts, nil
}

// SetFacts persists the session facts.
func (l *Local) SetFacts(ctx context.Context, facts Facts) error {
	return writeLocked(ctx, l.factsPath, facts)
}

// ClearFacts removes the persisted session facts.
func (l *Local) ClearFacts(ctx context.Context) error {
	return removeLocked(ctx, l.factsPath)
}

// writeLocked serializes value as YAML to filePath while holding its file lock.
func writeLocked(ctx context.Context, filePath string, value any) error {
	return withLock(ctx, filePath, func() error {
		data, err := yaml.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to serialize state: %w", err)
		}
		if err := os.MkdirAll(path.Dir(filePath), 0700); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		if err := os.WriteFile(filePath, data, 0600); err != nil {
			return fmt.Errorf("failed to write state file: %w", err)
		}
		return nil
	})
}

// removeLocked deletes filePath while holding its lock. Missing files are fine.
func removeLocked(ctx context.Context, filePath string) error {
	return withLock(ctx, filePath, func() error {
		if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove state file: %w", err)
		}
		return nil
	})
}

// withLock runs fn while holding the lock for filePath.
func withLock(ctx context.Context, filePath string, fn func() error) error {
	// Use a separate lock file for cross-platform compatibility
	fileLock := flock.New(filePath + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire state lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire state lock: timeout after %v", lockTimeout)
	}
	defer fileLock.Unlock()

	return fn()
}
