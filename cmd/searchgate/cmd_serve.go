// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianSearch/services/search"
	"github.com/AleutianAI/AleutianSearch/services/search/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the search HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger("search", true)
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.Info("Starting search service",
		"port", cfg.Port,
		"indexes", cfg.IndexNames(),
		"failure_policy", cfg.FailurePolicy,
		"provider_timeout", cfg.ProviderTimeout.String(),
		"tracing", cfg.OTelEndpoint != "",
		"metrics", cfg.MetricsEnabled,
	)

	svc, err := search.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create search service: %w", err)
	}
	return svc.Run()
}
