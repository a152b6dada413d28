// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the docsgate server.
package main

import (
	"os"

	"github.com/docsgate/docsgate/cmd/docsgate/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
