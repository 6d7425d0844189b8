// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router implements Cosmo auto-routing: it classifies a prompt into
// a category and picks the catalog model preferred for that category.
//
// # Key Types
//
//   - Category: Query category enumeration (coding, writing, math, ...)
//   - Decision: The model chosen for a turn and why
//
// # Usage
//
//	d := router.Select(req.Model, prompt, model.Catalog)
//	if d.CosmoSelected {
//	    // send a metadata frame naming d.ModelID before content
//	}
//
// Concrete model ids pass through untouched. Only auto ids are routed.
package router
