// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"
)

// ============================================================================
// CATEGORIES
// ============================================================================

// Category is the kind of work a prompt asks for.
type Category int

const (
	CategoryGeneral Category = iota
	CategoryCoding
	CategoryWriting
	CategoryAnalysis
	CategoryResearch
	CategoryMath
	CategoryCreative
)

// String returns the wire name of the category.
func (c Category) String() string {
	switch c {
	case CategoryCoding:
		return "coding"
	case CategoryWriting:
		return "writing"
	case CategoryAnalysis:
		return "analysis"
	case CategoryResearch:
		return "research"
	case CategoryMath:
		return "math"
	case CategoryCreative:
		return "creative"
	default:
		return "general"
	}
}

// ParseCategory maps a wire name back to a Category. Unknown names are general.
func ParseCategory(s string) Category {
	for c := CategoryGeneral; c <= CategoryCreative; c++ {
		if strings.EqualFold(s, c.String()) {
			return c
		}
	}
	return CategoryGeneral
}

// ============================================================================
// CLASSIFICATION FUNCTIONS
// ============================================================================

// containsAny reports whether q contains any of the keywords.
func containsAny(q string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(q, k) {
			return true
		}
	}
	return false
}

// Classify analyzes prompt text to determine its category.
//
// Classification rules (in order of priority):
//  1. Coding: code fences, language keywords, debugging vocabulary
//  2. Math: equations, proofs, arithmetic vocabulary
//  3. Creative: stories, poems, lyrics
//  4. Writing: drafting, editing, rewording
//  5. Analysis: compare, evaluate, pros and cons
//  6. Research: sources, history, "what is" lookups
//  7. General: everything else
func Classify(query string) Category {
	q := strings.ToLower(query)

	if strings.Contains(query, "```") ||
		containsAny(q,
			"code", "function", "compile", "bug", "stack trace", "refactor",
			"regex", "sql", "endpoint", "golang", "python", "javascript", "typescript",
			"func ", "def ", "class ", "import ") {
		return CategoryCoding
	}

	if containsAny(q,
		"equation", "integral", "derivative", "proof", "prove ", "theorem",
		"calculate", "solve for", "probability", "algebra", "matrix") ||
		looksArithmetic(q) {
		return CategoryMath
	}

	if containsAny(q, "story", "poem", "lyrics", "haiku", "fiction", "imagine", "brainstorm") {
		return CategoryCreative
	}

	if containsAny(q,
		"write", "draft", "rewrite", "proofread", "essay", "email", "letter",
		"summarize", "paraphrase", "grammar") {
		return CategoryWriting
	}

	if containsAny(q,
		"analyze", "analyse", "compare", "evaluate", "pros and cons",
		"trade-off", "tradeoff", "assess", "versus", " vs ") {
		return CategoryAnalysis
	}

	if containsAny(q,
		"research", "sources", "citation", "history of", "who was", "who is",
		"what is", "when did", "explain") {
		return CategoryResearch
	}

	return CategoryGeneral
}

// looksArithmetic catches bare expressions like "12 * 7 + 3".
func looksArithmetic(q string) bool {
	digits, ops := 0, 0
	for _, r := range q {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune("+-*/^=", r):
			ops++
		case r == ' ' || r == '.' || r == '(' || r == ')' || r == '?':
		default:
			return false
		}
	}
	return digits >= 2 && ops >= 1
}
