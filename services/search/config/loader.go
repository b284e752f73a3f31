// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// indexFile is the on-disk shape of SEARCH_INDEX_CONFIG.
//
//	indexes:
//	  - name: semantic
//	    kind: chroma
//	    collection: chroma_db_semantic
//	  - name: keywords
//	    kind: bleve
//	    path: /data/bleve/keywords
type indexFile struct {
	Indexes []IndexSpec `yaml:"indexes"`
}

// LoadIndexFile reads the index map from a YAML file.
func LoadIndexFile(path string) ([]IndexSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the index config %s: %w", path, err)
	}
	var file indexFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse the index config %s: %w", path, err)
	}
	if len(file.Indexes) == 0 {
		return nil, fmt.Errorf("index config %s defines no indexes", path)
	}
	return file.Indexes, nil
}
