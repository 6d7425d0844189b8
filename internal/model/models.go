// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"strings"
)

// =============================================================================
// AUTO MODEL
// =============================================================================

// AutoModel is the model id that asks the backend to choose ("Cosmo" routing).
const AutoModel = "auto"

// IsAutoModel reports whether a model id requests automatic routing.
func IsAutoModel(id string) bool {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case AutoModel, "cosmo", "cosmo-auto":
		return true
	}
	return false
}

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo describes a selectable model.
type ModelInfo struct {
	// ID is the model identifier used in API calls
	ID string `json:"id" toml:"id"`

	// Name is the human-readable display name
	Name string `json:"name" toml:"name"`

	// Provider identifies who serves the model
	Provider string `json:"provider" toml:"provider"`

	// Categories lists the query categories this model is preferred for
	// when auto routing picks a model.
	Categories []string `json:"categories,omitempty" toml:"categories"`

	// Description is a brief explanation of the model's strengths
	Description string `json:"description,omitempty" toml:"description"`
}

// Serves returns true if the model is preferred for the category.
func (m ModelInfo) Serves(category string) bool {
	for _, c := range m.Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// =============================================================================
// MODEL CATALOG
// =============================================================================

// Catalog is the built-in list of models offered by the workspace.
// The first entry serving "general" is the auto routing fallback.
var Catalog = []ModelInfo{
	{
		ID:          "google/gemini-2.5-flash",
		Name:        "Gemini 2.5 Flash",
		Provider:    "Google",
		Categories:  []string{"general", "research"},
		Description: "Fast general purpose model",
	},
	{
		ID:          "anthropic/claude-sonnet-4",
		Name:        "Claude Sonnet 4",
		Provider:    "Anthropic",
		Categories:  []string{"coding", "analysis"},
		Description: "Strong code and reasoning",
	},
	{
		ID:          "openai/gpt-4o",
		Name:        "GPT-4o",
		Provider:    "OpenAI",
		Categories:  []string{"writing", "creative"},
		Description: "Versatile writing model",
	},
	{
		ID:          "deepseek/deepseek-r1",
		Name:        "DeepSeek R1",
		Provider:    "DeepSeek",
		Categories:  []string{"math"},
		Description: "Step-by-step reasoning",
	},
}

// LookupModel finds a catalog entry by id, or by a case-insensitive name match.
func LookupModel(id string) (ModelInfo, bool) {
	for _, info := range Catalog {
		if info.ID == id {
			return info, true
		}
	}
	for _, info := range Catalog {
		if strings.EqualFold(info.Name, id) {
			return info, true
		}
	}
	return ModelInfo{}, false
}

// DisplayName returns the catalog name for a model id, or the id itself.
func DisplayName(id string) string {
	if IsAutoModel(id) {
		return "Cosmo (auto)"
	}
	if info, ok := LookupModel(id); ok {
		return info.Name
	}
	return id
}

// ModelIDs returns the sorted ids of the catalog.
func ModelIDs() []string {
	ids := make([]string, 0, len(Catalog))
	for _, info := range Catalog {
		ids = append(ids, info.ID)
	}
	sort.Strings(ids)
	return ids
}
