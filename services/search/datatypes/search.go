// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
)

// SearchForm is the body of POST /search.
//
// # Fields
//
//   - Query: Required. Free-text query ("q" form field).
//   - Password: Optional. Shared access secret; empty when omitted.
type SearchForm struct {
	Query    string `form:"q"`
	Password string `form:"password"`
}

// Normalize trims surrounding whitespace from the query.
func (f *SearchForm) Normalize() {
	f.Query = strings.TrimSpace(f.Query)
}

// FormPage is the data every page hands to the search form: the query to
// prefill and, after a successful search, the password to keep.
type FormPage struct {
	Query    string
	Password string
}

// ResultsPage is the data handed to the results template.
type ResultsPage struct {
	FormPage
	SearchID  string
	Documents []SearchRecord
	// Degraded lists indexes that failed and were left out of Documents.
	Degraded []string
}

// ErrorPage is the data handed to the error template. The password is
// never echoed back on an error page.
type ErrorPage struct {
	FormPage
	ErrorMessage string
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status  string   `json:"status"`
	Indexes []string `json:"indexes"`
}
