// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package views holds the embedded HTML templates of the search pages.
package views

import (
	"embed"
	"html/template"
	"strings"
	"unicode/utf8"
)

// Page template names.
const (
	PageIndex   = "index.html"
	PageResults = "documents.html"
	PageError   = "error.html"
)

// breadcrumbSeparator joins tag path segments for display.
const breadcrumbSeparator = " › "

//go:embed templates/*.html
var templateFS embed.FS

// Funcs are the helpers available to every page.
var Funcs = template.FuncMap{
	"join":       strings.Join,
	"breadcrumb": Breadcrumb,
	"snippet":    Snippet,
}

// Load parses every embedded page.
//
// # Outputs
//
//   - *template.Template: Ready for gin's SetHTMLTemplate.
//   - error: Non-nil only if an embedded template is malformed.
func Load() (*template.Template, error) {
	return template.New("").Funcs(Funcs).ParseFS(templateFS, "templates/*.html")
}

// Breadcrumb renders a tag path as "Home › Services › Passports".
func Breadcrumb(path []string) string {
	return strings.Join(path, breadcrumbSeparator)
}

// Snippet shortens text to at most limit runes, cutting at the last space
// when there is one and appending an ellipsis.
func Snippet(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:limit])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}
