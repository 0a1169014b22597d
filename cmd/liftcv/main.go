// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the LiftCV CLI.
package main

import (
	"os"

	"github.com/liftcv/liftcv/cmd/liftcv/app"
	"github.com/liftcv/liftcv/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
