// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command searchgate runs and operates the password-gated search service.
//
// # Commands
//
//	searchgate serve                 start the HTTP server
//	searchgate query "passport"      search the configured indexes from the shell
//	searchgate hash-password         print an argon2id hash for SEARCH_PASSWORD_HASH
//
// # Environment Variables
//
// Configuration is read from the environment, see the config package. The
// CLI adds:
//
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//   - LOG_DIR: Also write daily JSON log files to this directory
//
// # Usage
//
//	# Build
//	go build -o searchgate ./cmd/searchgate
//
//	# Run
//	SEARCH_INDEX_CONFIG=indexes.yaml ./searchgate serve
package main

import (
	"os"

	"github.com/AleutianAI/AleutianSearch/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	logDir   string

	rootCmd = &cobra.Command{
		Use:           "searchgate",
		Short:         "Password-gated search across several document indexes",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", getEnvString("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", os.Getenv("LOG_DIR"), "directory for daily JSON log files")

	rootCmd.AddCommand(serveCmd, queryCmd, hashPasswordCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the persistent flags.
func newLogger(service string, json bool) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		LogDir:  logDir,
		Service: service,
		JSON:    json,
	})
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
