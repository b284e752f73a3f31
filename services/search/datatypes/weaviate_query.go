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
	"encoding/json"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Weaviate returns GraphQL data as map[string]models.JSONObject. This
// round-trips the data through JSON into a strongly-typed struct whose json
// tags match the expected response shape.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if the response is nil, carries GraphQL errors, or
//     cannot be decoded.
//
// # Limitations
//
//   - Type mismatches decode to zero values rather than errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Passage Query Types
// =============================================================================

// PassageQueryResponse is the Get response of a passage class. The class
// name is configurable per index, so results are keyed by class.
type PassageQueryResponse struct {
	Get map[string][]PassageResult `json:"Get"`
}

// PassageResult is one passage object returned by a nearVector query.
type PassageResult struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	Tags       string `json:"tags"`
	Additional struct {
		ID       strfmt.UUID `json:"id"`
		Distance *float32    `json:"distance"`
	} `json:"_additional"`
}

// ObjectID returns the weaviate object UUID, or "" when absent or not a
// valid UUID.
func (p PassageResult) ObjectID() string {
	id := p.Additional.ID.String()
	if !strfmt.IsUUID(id) {
		return ""
	}
	return id
}

// Score returns the relevance of the passage as 1 - distance. Weaviate
// reports a distance for every vector metric, so the score is defined for
// any class; a passage without a distance scores 0.
func (p PassageResult) Score() float64 {
	if p.Additional.Distance != nil {
		return 1 - float64(*p.Additional.Distance)
	}
	return 0
}
