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
	"sort"

	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
)

// MergeBest combines per-index result lists into one ranked top-n list.
//
// # Description
//
// Lists are concatenated in ascending index-name order, grouped by source,
// and only the highest-scoring record of each group is kept. The survivors
// are sorted by score descending and truncated to n.
//
// # Inputs
//
//   - perIndex: Result lists keyed by index name. May be nil or empty.
//   - n: Maximum number of records to return.
//
// # Outputs
//
//   - []datatypes.SearchRecord: min(n, distinct sources) records, never nil.
//
// # Examples
//
//	merged := MergeBest(map[string][]datatypes.SearchRecord{
//	    "A": {{Source: "x", Score: 0.5}, {Source: "y", Score: 0.9}},
//	    "B": {{Source: "x", Score: 0.8}},
//	}, 2)
//	// merged: y@0.9, x@0.8
//
// # Limitations
//
//   - Scores from different providers are compared as-is.
//
// # Assumptions
//
//   - Equal scores keep first-seen order, which is fixed by the index-name
//     ordering, so the output does not depend on map iteration order.
func MergeBest(perIndex map[string][]datatypes.SearchRecord, n int) []datatypes.SearchRecord {
	if n <= 0 || len(perIndex) == 0 {
		return []datatypes.SearchRecord{}
	}

	names := make([]string, 0, len(perIndex))
	total := 0
	for name, records := range perIndex {
		names = append(names, name)
		total += len(records)
	}
	sort.Strings(names)

	all := make([]datatypes.SearchRecord, 0, total)
	for _, name := range names {
		all = append(all, perIndex[name]...)
	}

	best := bestBySource(all)
	if len(best) > n {
		best = best[:n]
	}
	return best
}

// bestBySource keeps the highest-scoring record per source and returns the
// survivors sorted by score descending. On equal scores the record seen
// first wins, and equal-score survivors keep their first-seen order.
func bestBySource(records []datatypes.SearchRecord) []datatypes.SearchRecord {
	position := make(map[string]int, len(records))
	kept := make([]datatypes.SearchRecord, 0, len(records))

	for _, rec := range records {
		i, seen := position[rec.Source]
		if !seen {
			position[rec.Source] = len(kept)
			kept = append(kept, rec)
			continue
		}
		if rec.Score > kept[i].Score {
			kept[i] = rec
		}
	}

	sort.SliceStable(kept, func(a, b int) bool {
		return kept[a].Score > kept[b].Score
	})
	return kept
}
