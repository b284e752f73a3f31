// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery is returned for an empty query or a non-positive k.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnknownIndex is returned when a search names an index that is not
	// configured.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrProviderUnavailable is returned when an index cannot be reached,
	// opened, or does not answer before the provider timeout.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAllProvidersFailed is returned when every configured index failed
	// for a single request.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// IndexError records the failure of one index during a search.
//
// errors.Is(err, ErrProviderUnavailable) holds for every IndexError, and the
// provider's own error stays reachable through errors.Unwrap chains.
type IndexError struct {
	Index string
	Err   error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %q: %v: %v", e.Index, ErrProviderUnavailable, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *IndexError) Unwrap() []error {
	return []error{ErrProviderUnavailable, e.Err}
}
