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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianSearch/services/search/auth"
	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		queryJSON, queryPlain, queryIndex, queryK, queryN = false, false, "", 0, 0
	})
	err := rootCmd.Execute()
	return out.String(), err
}

// =============================================================================
// hash-password
// =============================================================================

func TestHashPassword_FromArgument(t *testing.T) {
	out, err := execute(t, "", "hash-password", "--memory", "1024", "--iterations", "1", "--parallelism", "1", "s3cret")
	require.NoError(t, err)

	phc := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(phc, "$argon2id$v=19$m=1024,t=1,p=1$"), phc)

	gate, err := auth.NewGate(phc)
	require.NoError(t, err)
	assert.True(t, gate.Verify("s3cret"))
}

func TestHashPassword_FromStdin(t *testing.T) {
	out, err := execute(t, "piped-secret\n", "hash-password", "--memory", "1024", "--iterations", "1", "--parallelism", "1")
	require.NoError(t, err)

	gate, err := auth.NewGate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.True(t, gate.Verify("piped-secret"))
}

func TestReadSecret(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "argument wins", in: "ignored\n", args: []string{"arg"}, want: "arg"},
		{name: "first line", in: "line one\nline two\n", want: "line one"},
		{name: "no trailing newline", in: "only", want: "only"},
		{name: "crlf", in: "win\r\n", want: "win"},
		{name: "empty", in: "", wantErr: true},
		{name: "blank line", in: "\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readSecret(strings.NewReader(tt.in), tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// query
// =============================================================================

// setupKeywordIndex writes a bleve index and an index file pointing at it,
// and points the configuration at them.
func setupKeywordIndex(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "kw.bleve")

	idx, err := bleve.New(indexPath, bleve.NewIndexMapping())
	require.NoError(t, err)
	require.NoError(t, idx.Index("1", map[string]interface{}{
		"content": "Passport renewal takes two weeks",
		"source":  "https://gov.example/passport",
		"tags":    "Home\tServices\tPassports",
	}))
	require.NoError(t, idx.Close())

	indexFile := filepath.Join(dir, "indexes.yaml")
	yamlBody := "indexes:\n  - name: keywords\n    kind: bleve\n    path: " + indexPath + "\n"
	require.NoError(t, os.WriteFile(indexFile, []byte(yamlBody), 0o600))

	t.Setenv("SEARCH_INDEX_CONFIG", indexFile)
	t.Setenv("SEARCH_TAG_DATA", filepath.Join(dir, "missing.json"))
	t.Setenv("OPENAI_API_KEY", "")
}

func TestQuery_Table(t *testing.T) {
	setupKeywordIndex(t)

	out, err := execute(t, "", "query", "--plain", "passport")
	require.NoError(t, err)
	assert.Contains(t, out, "SCORE")
	assert.Contains(t, out, "keywords")
	assert.Contains(t, out, "Passports")
	assert.Contains(t, out, "https://gov.example/passport")
}

func TestQuery_JSON(t *testing.T) {
	setupKeywordIndex(t)

	out, err := execute(t, "", "query", "--json", "passport")
	require.NoError(t, err)

	var got queryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "passport", got.Query)
	require.Len(t, got.Results, 1)
	assert.Equal(t, []string{"Home", "Services", "Passports"}, got.Results[0].TagPath)
}

func TestQuery_SingleIndex(t *testing.T) {
	setupKeywordIndex(t)

	_, err := execute(t, "", "query", "--index", "keywords", "--json", "passport")
	require.NoError(t, err)

	_, err = execute(t, "", "query", "--index", "nope", "passport")
	assert.Error(t, err)
}

func TestRenderResults(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		out := renderResults(queryOutput{Query: "zeppelin"}, false)
		assert.Equal(t, "No documents matched \"zeppelin\".\n", out)
	})

	t.Run("degraded and rows", func(t *testing.T) {
		out := renderResults(queryOutput{
			Query: "passport",
			Results: []datatypes.SearchRecord{
				{Index: "semantic", Content: "Renew\n  online", Source: "https://gov.example/passport", Title: "Passports", Score: 0.91234},
				{Index: "paths", Content: "untitled", Source: "unknown", TagPath: []string{}},
			},
			Degraded: []string{"znaki-150"},
		}, false)

		assert.True(t, strings.HasPrefix(out, "Skipped indexes: znaki-150\n"))
		assert.Contains(t, out, "0.912")
		assert.Contains(t, out, "Renew online")
		assert.Contains(t, out, "unknown")
		assert.Less(t, strings.Index(out, "semantic"), strings.Index(out, "paths"))
	})
}
