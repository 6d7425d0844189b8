// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
)

// Decision is the routing outcome for one turn.
type Decision struct {
	ModelID       string
	ModelName     string
	Category      Category
	CosmoSelected bool
}

// Select resolves the model for a turn. A concrete requested model passes
// through. An auto request is classified and mapped to the first catalog
// entry serving the category, falling back to the first entry serving
// general and then to the first entry of the catalog.
func Select(requested, query string, catalog []model.ModelInfo) Decision {
	if !model.IsAutoModel(requested) {
		return Decision{
			ModelID:   requested,
			ModelName: model.DisplayName(requested),
			Category:  Classify(query),
		}
	}

	category := Classify(query)
	d := Decision{Category: category, CosmoSelected: true}

	info, ok := preferred(catalog, category.String())
	if !ok {
		info, ok = preferred(catalog, CategoryGeneral.String())
	}
	if !ok && len(catalog) > 0 {
		info, ok = catalog[0], true
	}
	if !ok {
		// Empty catalog: nothing to route to, leave the id as requested.
		d.ModelID = requested
		d.ModelName = model.DisplayName(requested)
		d.CosmoSelected = false
		return d
	}

	d.ModelID = info.ID
	d.ModelName = info.Name
	return d
}

func preferred(catalog []model.ModelInfo, category string) (model.ModelInfo, bool) {
	for _, info := range catalog {
		if info.Serves(category) {
			return info, true
		}
	}
	return model.ModelInfo{}, false
}
