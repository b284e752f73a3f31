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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianSearch/services/search/auth"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	hashMemory      uint32
	hashIterations  uint32
	hashParallelism uint8

	hashPasswordCmd = &cobra.Command{
		Use:   "hash-password [secret]",
		Short: "Print an argon2id hash of the access secret for SEARCH_PASSWORD_HASH",
		Long: `Hashes the shared access secret with argon2id. The secret is taken from
the argument, prompted for on a terminal, or read from the first line of
stdin otherwise.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHashPassword,
	}
)

func init() {
	defaults := auth.DefaultParams()
	hashPasswordCmd.Flags().Uint32Var(&hashMemory, "memory", defaults.Memory, "memory cost in KiB")
	hashPasswordCmd.Flags().Uint32Var(&hashIterations, "iterations", defaults.Iterations, "number of passes")
	hashPasswordCmd.Flags().Uint8Var(&hashParallelism, "parallelism", defaults.Parallelism, "number of lanes")
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	secret, err := readSecret(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	params := auth.DefaultParams()
	params.Memory = hashMemory
	params.Iterations = hashIterations
	params.Parallelism = hashParallelism

	phc, err := auth.HashPassword(secret, params)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), phc)
	return err
}

// readSecret returns the secret from args, an interactive prompt, or the
// first line of in.
func readSecret(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		var secret string
		err := huh.NewInput().
			Title("Access secret").
			EchoMode(huh.EchoModePassword).
			Validate(func(s string) error {
				if s == "" {
					return errors.New("secret must not be empty")
				}
				return nil
			}).
			Value(&secret).
			Run()
		return secret, err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("secret must not be empty")
	}
	return secret, nil
}
