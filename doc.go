// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

// Package query implements a shared-memory routing query table: a single
// writer process publishes per-prefix route summaries into a block-indexed
// radix tree living in a named POSIX shared-memory region, and any number
// of out-of-process readers look prefixes up without going through the
// writer.
//
// Writer publishes route-change notifications into a debounced queue and
// applies batches of them to the tree under an exclusive cross-process
// lock. Reader attaches to an existing region and performs lock-protected
// lookups. Neither type is safe for concurrent use by multiple goroutines
// within one process; each wraps exactly one region handle.
package query
