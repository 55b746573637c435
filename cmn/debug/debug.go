//go:build !debug

// Package debug provides build-tag-gated assertions that compile to no-ops
// in release builds.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
