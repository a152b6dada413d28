// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the docsgate command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/docsgate/docsgate/pkg/logger"
	"github.com/docsgate/docsgate/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "docsgate",
	DisableAutoGenTag: true,
	Short:             "OAuth authorization gateway for a document API",
	Long: `Docsgate fronts a document management API with an MCP tool server
behind a standards-compliant OAuth 2.0 authorization layer. It issues
its own tokens after bridging user logins to an upstream identity
provider, tracks client protocol sessions, and proxies document
operations downstream on behalf of the authenticated user.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates the root command for the docsgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()
			logger.Infof("docsgate %s (commit %s, built %s)", info.Version, info.Commit, info.BuildDate)
		},
	}
}
