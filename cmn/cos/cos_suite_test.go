// Package cos provides low-level utilities shared by every component of the
// pipeline: "empty value" detection for the merger, byte-level corpusid
// scanning, and short random ids for output shards.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package cos_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestCos(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
