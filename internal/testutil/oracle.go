// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

package testutil

import (
	"net/netip"
	"slices"
)

// Oracle is a slow, obviously-correct reference table over (prefix, bytes)
// pairs, used to check internal/tree against property tests: every insert,
// delete and find is also applied to an Oracle, and the two are compared.
type Oracle struct {
	items []oracleItem
}

type oracleItem struct {
	pfx netip.Prefix
	val []byte
}

// Set inserts or overwrites the value stored for pfx.
func (o *Oracle) Set(pfx netip.Prefix, val []byte) {
	pfx = pfx.Masked()

	for i, it := range o.items {
		if it.pfx == pfx {
			o.items[i].val = val
			return
		}
	}

	o.items = append(o.items, oracleItem{pfx: pfx, val: val})
}

// Delete removes pfx if present.
func (o *Oracle) Delete(pfx netip.Prefix) {
	pfx = pfx.Masked()

	for i, it := range o.items {
		if it.pfx == pfx {
			o.items = slices.Delete(o.items, i, i+1)
			return
		}
	}
}

// Get returns the exact-match value for pfx.
func (o *Oracle) Get(pfx netip.Prefix) (val []byte, ok bool) {
	pfx = pfx.Masked()

	for _, it := range o.items {
		if it.pfx == pfx {
			return it.val, true
		}
	}

	return nil, false
}

// CoveringDesc returns the values of every stored prefix that contains
// addr, ordered longest-prefix-first, mirroring the order FindAll must
// produce.
func (o *Oracle) CoveringDesc(addr netip.Addr) [][]byte {
	type hit struct {
		bits int
		val  []byte
	}

	var hits []hit

	for _, it := range o.items {
		if it.pfx.Contains(addr) {
			hits = append(hits, hit{bits: it.pfx.Bits(), val: it.val})
		}
	}

	slices.SortFunc(hits, func(a, b hit) int { return b.bits - a.bits })

	out := make([][]byte, len(hits))
	for i, h := range hits {
		out[i] = h.val
	}

	return out
}

// Len reports how many prefixes are currently stored.
func (o *Oracle) Len() int { return len(o.items) }
