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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianSearch/services/search"
	"github.com/AleutianAI/AleutianSearch/services/search/config"
	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
	"github.com/AleutianAI/AleutianSearch/services/search/views"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	queryK     int
	queryN     int
	queryIndex string
	queryJSON  bool
	queryPlain bool

	queryCmd = &cobra.Command{
		Use:   "query [text...]",
		Short: "Search the configured indexes from the command line",
		Long: `Runs a query against the configured indexes without the HTTP server and
prints the merged results. The access gate does not apply: the operator
already has direct access to the configuration.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runQuery,
	}
)

func init() {
	queryCmd.Flags().IntVar(&queryK, "k", 0, "results per index (default: SEARCH_K)")
	queryCmd.Flags().IntVar(&queryN, "n", 0, "results after merging (default: SEARCH_N)")
	queryCmd.Flags().StringVar(&queryIndex, "index", "", "search only this index, without merging")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print results as JSON")
	queryCmd.Flags().BoolVar(&queryPlain, "plain", false, "disable colors")
}

// queryOutput is the JSON shape of query results.
type queryOutput struct {
	Query    string                   `json:"query"`
	Results  []datatypes.SearchRecord `json:"results"`
	Degraded []string                 `json:"degraded,omitempty"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	logger := newLogger("search-cli", false)
	defer logger.Close()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	k, n := queryK, queryN
	if k <= 0 {
		k = cfg.K
	}
	if n <= 0 {
		n = cfg.N
	}

	pipeline, err := search.NewPipeline(cfg, search.PipelineOptions{})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	query := strings.Join(args, " ")
	out := queryOutput{Query: query}

	if queryIndex != "" {
		out.Results, err = pipeline.Searcher.SearchIndex(cmd.Context(), queryIndex, query, k)
		if err != nil {
			return err
		}
	} else {
		outcome, err := pipeline.Searcher.Search(cmd.Context(), query, k, n)
		if err != nil {
			return err
		}
		out.Results = outcome.Records
		out.Degraded = outcome.FanOut.Failed()
	}

	w := cmd.OutOrStdout()
	if queryJSON {
		return writeJSON(w, out)
	}
	styled := !queryPlain && w == os.Stdout && isatty.IsTerminal(os.Stdout.Fd())
	_, err = fmt.Fprint(w, renderResults(out, styled))
	return err
}

// writeJSON prints out as indented JSON.
func writeJSON(w io.Writer, out queryOutput) error {
	if out.Results == nil {
		out.Results = []datatypes.SearchRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// =============================================================================
// Rendering
// =============================================================================

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	scoreStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	cellPadding   = lipgloss.NewStyle().Padding(0, 1)
	maxCellLength = 60
)

// renderResults formats the results as a table with one row per record.
func renderResults(out queryOutput, styled bool) string {
	var b strings.Builder

	if len(out.Degraded) > 0 {
		line := "Skipped indexes: " + strings.Join(out.Degraded, ", ")
		if styled {
			line = warningStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	if len(out.Results) == 0 {
		fmt.Fprintf(&b, "No documents matched %q.\n", out.Query)
		return b.String()
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "SCORE", "INDEX", "TITLE", "SOURCE", "SNIPPET").
		StyleFunc(func(row, col int) lipgloss.Style {
			if !styled {
				return cellPadding
			}
			switch {
			case row == table.HeaderRow:
				return headerStyle.Padding(0, 1)
			case col == 1:
				return scoreStyle.Padding(0, 1)
			default:
				return cellPadding
			}
		})

	for i, rec := range out.Results {
		title := rec.Title
		if title == "" {
			title = views.Breadcrumb(rec.TagPath)
		}
		t.Row(
			strconv.Itoa(i+1),
			strconv.FormatFloat(rec.Score, 'f', 3, 64),
			rec.Index,
			views.Snippet(title, maxCellLength),
			views.Snippet(rec.Source, maxCellLength),
			views.Snippet(strings.Join(strings.Fields(rec.Content), " "), maxCellLength),
		)
	}

	b.WriteString(t.String())
	b.WriteString("\n")
	return b.String()
}
