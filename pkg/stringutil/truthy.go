// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stringutil holds small string helpers shared across components.
package stringutil

import "strings"

// IsTruthyValue reports whether value represents an enabled setting.
// Recognized truthy values, after trimming whitespace and ignoring case:
// "true", "enabled", "1", "yes". Everything else is falsy.
func IsTruthyValue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "enabled", "1", "yes":
		return true
	default:
		return false
	}
}
