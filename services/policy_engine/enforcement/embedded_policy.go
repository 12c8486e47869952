// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package enforcement embeds the secret detection rules into the binary.
package enforcement

import (
	_ "embed"
)

// DataClassificationPatterns is the raw content of data_classification_patterns.yaml.
//
// The rules are compiled into the executable and cannot be changed on the host
// without a rebuild.
//
// Usage:
//
//	err := yaml.Unmarshal(enforcement.DataClassificationPatterns, &targetStruct)
//
//go:embed data_classification_patterns.yaml
var DataClassificationPatterns []byte
