// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

// Package tree implements the 6-bit-per-level radix tree described in spec
// §4.3: Find, Get and Delete over prefixes keyed by (address, length),
// stored as block-index-linked Link and Data blocks rather than native
// pointers.
package tree

import (
	"errors"
	"net/netip"

	"github.com/routedaemon/query/internal/alloc"
	"github.com/routedaemon/query/internal/block"
)

// ErrNotInitialized is returned by Open when the root block has not yet
// been tagged as a Link block by a writer's New call.
var ErrNotInitialized = errors.New("tree: root block not initialized")

// Root is always block index 1; it is never freed.
const Root block.Index = 1

// BlockSource gives the tree access to block bytes without depending on
// the concrete region type.
type BlockSource interface {
	Block(block.Index) *block.Raw
}

// Table is a radix tree over one region's block 1 (the root link block).
type Table struct {
	region BlockSource
	alloc  *alloc.Allocator
}

// New wraps region's tree for the writer, tagging the root link block if
// the region was just created (a freshly truncated file is all zero bytes,
// i.e. tag block.TagFree). Only the writer process may call New: a reader
// must never write region bytes beyond the lock blob (spec §4.1, §6), so it
// calls Open instead.
func New(region BlockSource, a *alloc.Allocator) *Table {
	root := region.Block(Root)
	if block.TagOf(root) != block.TagLink {
		block.NewLink(root)
	}

	return &Table{region: region, alloc: a}
}

// Open wraps region's tree for a reader. It never writes region bytes: the
// root block must already carry block.TagLink, written by the writer's New
// before any reader can have attached to the region at all. It returns
// ErrNotInitialized if the root is not yet a Link block.
func Open(region BlockSource) (*Table, error) {
	if block.TagOf(region.Block(Root)) != block.TagLink {
		return nil, ErrNotInitialized
	}

	return &Table{region: region}, nil
}

// chunks decomposes a prefix into the sequence of full 6-bit chunk values
// (MSB first) and an optional trailing partial chunk of length 1..5 bits.
// A pxlen that is an exact multiple of six has no trailing partial; pxlen
// of 0 is handled by callers as a dedicated special case (data0[0] at the
// root) before chunks is ever consulted.
func chunks(pfx netip.Prefix) (full []int, partialLen, partialVal int) {
	addr := pfx.Addr().AsSlice()
	pxlen := pfx.Bits()

	full = make([]int, pxlen/6)
	for i := range full {
		full[i] = readBits(addr, i*6, 6)
	}

	partialLen = pxlen % 6
	if partialLen > 0 {
		partialVal = readBits(addr, len(full)*6, partialLen)
	}

	return full, partialLen, partialVal
}

// readBits reads nbits (<=8) starting at bitOffset (0 = MSB of addr[0]),
// MSB first, returning them right-justified in the result.
func readBits(addr []byte, bitOffset, nbits int) int {
	v := 0
	for i := 0; i < nbits; i++ {
		bitIdx := bitOffset + i
		byteVal := addr[bitIdx/8]
		bit := (byteVal >> (7 - bitIdx%8)) & 1
		v = v<<1 | int(bit)
	}

	return v
}

// Find returns the leaf's payload chain head for an exact (address, pxlen)
// match, or ok=false if no such prefix is stored.
func (t *Table) Find(pfx netip.Prefix) (head block.Index, ok bool) {
	if pfx.Bits() == 0 {
		head = t.linkOf(Root).DataSlot(0, 0)
		return head, head != 0
	}

	full, k, kv := chunks(pfx)

	cur := Root
	for i, chunkVal := range full {
		last := i == len(full)-1
		link := t.linkOf(cur)

		if last && k == 0 {
			// Exact-six terminal: the leaf lives either as a shortcut
			// directly in link[chunk], or, if a longer prefix already
			// forced a real child link into existence there, as that
			// child's data0[0] (mirrors getShortcut's dispatch).
			slot := link.LinkSlot(chunkVal)

			switch {
			case slot == 0:
				return 0, false
			case slot.IsShortcut():
				return slot.Child(), true
			default:
				head = t.linkOf(slot).DataSlot(0, 0)
				return head, head != 0
			}
		}

		slot := link.LinkSlot(chunkVal)
		if slot == 0 || slot.IsShortcut() {
			// Either genuinely absent, or a shortcut that terminates a
			// shorter prefix than what we're looking for.
			return 0, false
		}

		cur = slot
	}

	if k == 0 {
		// pxlen multiple of six handled above; unreachable for k==0 here
		// unless full is empty, which is the pxlen==0 case already
		// returned. Kept for completeness of the state machine.
		return 0, false
	}

	head = t.linkOf(cur).DataSlot(k, kv)

	return head, head != 0
}

// Get returns the leaf's payload chain head for (address, pxlen),
// allocating any missing Link/Data blocks along the way. It returns
// ok=false only when the region is full partway through; any Link blocks
// already allocated before the failure are left in place per spec §4.3's
// open question (no rollback).
func (t *Table) Get(pfx netip.Prefix) (head block.Index, ok bool) {
	if pfx.Bits() == 0 {
		return t.getDataSlot(Root, 0, 0)
	}

	full, k, kv := chunks(pfx)

	cur := Root
	for i, chunkVal := range full {
		last := i == len(full)-1

		if last && k == 0 {
			return t.getShortcut(cur, chunkVal)
		}

		next, ok := t.descendOrCreate(cur, chunkVal)
		if !ok {
			return 0, false
		}

		cur = next
	}

	return t.getDataSlot(cur, k, kv)
}

// descendOrCreate returns the plain child link block reached via
// link[chunk] of parent, allocating a new one (or promoting an existing
// shortcut) as needed.
func (t *Table) descendOrCreate(parent block.Index, chunkVal int) (block.Index, bool) {
	link := t.linkOf(parent)
	slot := link.LinkSlot(chunkVal)

	switch {
	case slot == 0:
		child := t.alloc.Alloc()
		if child == 0 {
			return 0, false
		}

		block.NewLink(t.region.Block(child))
		link.SetLinkSlot(chunkVal, child)
		link.AddLinkCount(1)

		return child, true

	case slot.IsShortcut():
		// Promote: the existing DATA block becomes data0[0] of a new
		// link block, preserving its payload.
		oldData := slot.Child()

		newLink := t.alloc.Alloc()
		if newLink == 0 {
			return 0, false
		}

		nl := block.NewLink(t.region.Block(newLink))
		nl.SetDataSlot(0, 0, oldData)
		nl.AddDataCount(1)

		link.SetLinkSlot(chunkVal, newLink)

		return newLink, true

	default:
		return slot, true
	}
}

// getShortcut resolves the exact-six terminal slot at link[chunk] of
// linkIdx, allocating a new Data block there if empty.
func (t *Table) getShortcut(linkIdx block.Index, chunkVal int) (block.Index, bool) {
	link := t.linkOf(linkIdx)

	slot := link.LinkSlot(chunkVal)
	if slot != 0 && slot.IsShortcut() {
		return slot.Child(), true
	}

	if slot != 0 {
		// A plain link already occupies this chunk for a longer prefix;
		// the exact-six leaf lives at that child's data0[0] instead.
		return t.getDataSlot(slot, 0, 0)
	}

	d := t.alloc.Alloc()
	if d == 0 {
		return 0, false
	}

	block.NewData(t.region.Block(d))
	link.SetLinkSlot(chunkVal, block.WithShortcut(d))
	link.AddLinkCount(1)

	return d, true
}

// getDataSlot resolves dataK[chunk] of linkIdx, allocating a new Data block
// there if empty.
func (t *Table) getDataSlot(linkIdx block.Index, k, chunkVal int) (block.Index, bool) {
	link := t.linkOf(linkIdx)

	if existing := link.DataSlot(k, chunkVal); existing != 0 {
		return existing, true
	}

	d := t.alloc.Alloc()
	if d == 0 {
		return 0, false
	}

	block.NewData(t.region.Block(d))
	link.SetDataSlot(k, chunkVal, d)
	link.AddDataCount(1)

	return d, true
}

// linkStep records one plain link[] descent, for Delete's upward collapse.
type linkStep struct {
	parent block.Index
	chunk  int
}

// Delete removes (address, pxlen) if present; it is a no-op if absent. It
// frees the leaf's payload chain and collapses any ancestor Link blocks
// that become empty as a result, stopping at the (never-freed) root.
func (t *Table) Delete(pfx netip.Prefix) {
	if pfx.Bits() == 0 {
		t.deleteDataSlot(Root, 0, 0, nil)
		return
	}

	full, k, kv := chunks(pfx)

	cur := Root
	var stack []linkStep

	for i, chunkVal := range full {
		last := i == len(full)-1
		link := t.linkOf(cur)

		if last && k == 0 {
			t.deleteExactSix(cur, chunkVal, stack)
			return
		}

		slot := link.LinkSlot(chunkVal)
		if slot == 0 || slot.IsShortcut() {
			return // absent: no-op
		}

		stack = append(stack, linkStep{parent: cur, chunk: chunkVal})
		cur = slot
	}

	t.deleteDataSlot(cur, k, kv, stack)
}

// deleteExactSix removes the leaf for a pxlen that is an exact multiple of
// six, mirroring getShortcut's three-way dispatch: the leaf lives either as
// a shortcut directly in link[chunk], or (if a longer prefix already forced
// a real child link into existence there) as that child's data0[0].
func (t *Table) deleteExactSix(linkIdx block.Index, chunkVal int, stack []linkStep) {
	link := t.linkOf(linkIdx)

	slot := link.LinkSlot(chunkVal)

	switch {
	case slot == 0:
		return // absent: no-op

	case slot.IsShortcut():
		t.alloc.FreeChain(t.region, slot.Child())
		link.SetLinkSlot(chunkVal, 0)
		link.AddLinkCount(-1)

		t.collapse(linkIdx, stack)

	default:
		stack = append(stack, linkStep{parent: linkIdx, chunk: chunkVal})
		t.deleteDataSlot(slot, 0, 0, stack)
	}
}

func (t *Table) deleteDataSlot(linkIdx block.Index, k, chunkVal int, stack []linkStep) {
	link := t.linkOf(linkIdx)

	head := link.DataSlot(k, chunkVal)
	if head == 0 {
		return // absent: no-op
	}

	t.alloc.FreeChain(t.region, head)
	link.SetDataSlot(k, chunkVal, 0)
	link.AddDataCount(-1)

	t.collapse(linkIdx, stack)
}

// collapse walks stack upward from cur, freeing Link blocks that have
// become fully empty and zeroing the slot that pointed to them. It never
// frees the root even if the root itself ends up empty.
func (t *Table) collapse(cur block.Index, stack []linkStep) {
	for {
		if cur == Root || !t.linkOf(cur).Empty() || len(stack) == 0 {
			return
		}

		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		t.alloc.Free(cur)

		parent := t.linkOf(top.parent)
		parent.SetLinkSlot(top.chunk, 0)
		parent.AddLinkCount(-1)

		cur = top.parent
	}
}

func (t *Table) linkOf(idx block.Index) block.Link {
	return block.AsLink(t.region.Block(idx))
}
