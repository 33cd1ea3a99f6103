// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

// Package alloc implements the block allocator: a free-range list plus a
// high-water frontier over the region's block indices [2, maxNode]. Blocks
// 0 (header) and 1 (root) are never managed here.
//
// Allocator state is writer-process-local, not stored in the shared region
// (spec §3: "allocator state is writer-process-local"); only the writer
// process ever constructs one.
package alloc

import (
	"errors"
	"fmt"

	"github.com/routedaemon/query/internal/block"
)

// ErrRegionFull is returned (indirectly, via Alloc returning 0) when the
// region has no more capacity. It is a recoverable, operation-local
// condition (spec §7.2): callers re-enqueue and retry, they never treat it
// as corruption.
var ErrRegionFull = errors.New("alloc: region full")

// freeRange is a half-open interval [begin, end) of free block indices.
type freeRange struct {
	begin, end block.Index
	next       *freeRange
}

// Zeroer clears a block's bytes before it re-enters circulation.
type Zeroer interface {
	Zero(i block.Index)
}

// Allocator hands out and reclaims block indices in [2, maxNode].
type Allocator struct {
	zeroer      Zeroer
	highestNode block.Index // frontier: highest index ever allocated
	maxNode     block.Index // capacity - 1
	free        *freeRange  // sorted, disjoint, non-adjacent
}

// New creates an allocator over a region with the given capacity (in
// blocks). highestNode starts at 1 (the root), since indices 0 and 1 are
// never handed out by Alloc.
func New(z Zeroer, numBlocks uint32) *Allocator {
	return &Allocator{
		zeroer:      z,
		highestNode: 1,
		maxNode:     block.Index(numBlocks - 1),
	}
}

// HighestNode reports the current frontier.
func (a *Allocator) HighestNode() block.Index { return a.highestNode }

// Alloc returns a fresh, zeroed block index, or 0 if the region is full.
func (a *Allocator) Alloc() block.Index {
	if a.free != nil {
		r := a.free
		idx := r.begin
		r.begin++

		if r.begin >= r.end {
			a.free = r.next
		}

		a.zeroer.Zero(idx)

		return idx
	}

	if a.highestNode == a.maxNode {
		return 0
	}

	a.highestNode++
	a.zeroer.Zero(a.highestNode)

	return a.highestNode
}

// Free returns block index n to the pool. It is a fatal programming error
// to free 0, 1, an index beyond the frontier, or an index that is already
// free; these represent corruption of the allocator's own invariants.
func (a *Allocator) Free(n block.Index) {
	if n <= 1 || n > a.highestNode {
		panic(fmt.Sprintf("alloc: Free(%d): out of range (highestNode=%d)", n, a.highestNode))
	}

	var prev *freeRange
	cur := a.free

	for cur != nil && cur.end < n {
		prev, cur = cur, cur.next
	}

	switch {
	case cur != nil && cur.begin <= n && n < cur.end:
		panic(fmt.Sprintf("alloc: Free(%d): already free", n))

	case cur != nil && cur.end == n:
		// Case 1: extend cur.end, then try to merge with successor.
		cur.end++
		if nxt := cur.next; nxt != nil && nxt.begin == cur.end {
			cur.end = nxt.end
			cur.next = nxt.next
		}

	case cur != nil && cur.begin == n+1:
		// Case 2: extend cur.begin downward. No predecessor merge is
		// possible here since we already checked prev.end < n above this
		// is the first range whose end is >= n.
		cur.begin = n

	default:
		// Case 3: no neighboring range, insert a fresh singleton.
		nr := &freeRange{begin: n, end: n + 1, next: cur}
		if prev == nil {
			a.free = nr
		} else {
			prev.next = nr
		}

		cur = nr
	}

	// Case 4: if the top range now touches the frontier, pop it and shrink
	// highestNode to reclaim it implicitly; loop in case that exposes a
	// prior range that also now touches the (lowered) frontier.
	a.shrinkFrontier()
}

// shrinkFrontier pops free ranges that touch the high-water frontier,
// lowering highestNode so the capacity they occupied is returned without
// being tracked explicitly. Free ranges are kept disjoint and non-adjacent,
// so at most the single current tail range can touch the frontier at a
// time, but popping it can expose the new tail for another round.
func (a *Allocator) shrinkFrontier() {
	for {
		if a.free == nil {
			return
		}

		tail := a.free
		var beforeTail *freeRange
		for tail.next != nil {
			beforeTail, tail = tail, tail.next
		}

		if tail.end != a.highestNode+1 {
			return
		}

		if beforeTail == nil {
			a.free = nil
		} else {
			beforeTail.next = nil
		}

		a.highestNode = tail.begin - 1
	}
}

// BlockSource gives FreeChain access to a block's raw bytes without
// depending on the concrete region type.
type BlockSource interface {
	Block(block.Index) *block.Raw
}

// FreeChain walks a singly linked Data chain (block.Data.Next), zeroing the
// Next pointer as it goes so a crash mid-walk leaves no dangling reference,
// then releases each block.
func (a *Allocator) FreeChain(region BlockSource, head block.Index) {
	for head != 0 {
		d := block.AsData(region.Block(head))
		next := d.Next()
		d.SetNext(0)
		a.Free(head)
		head = next
	}
}

// FreeRanges returns the current free-range list as a slice of [begin,end)
// pairs, sorted and exposed for testing and the property-based invariant
// checks in spec §8.
func (a *Allocator) FreeRanges() [][2]block.Index {
	var out [][2]block.Index
	for r := a.free; r != nil; r = r.next {
		out = append(out, [2]block.Index{r.begin, r.end})
	}

	return out
}
