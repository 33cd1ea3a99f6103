// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

package query

import (
	"context"
	"fmt"
	"net/netip"

	"golang.org/x/sync/errgroup"

	"github.com/routedaemon/query/internal/alloc"
	"github.com/routedaemon/query/internal/block"
	"github.com/routedaemon/query/internal/codec"
	"github.com/routedaemon/query/internal/queue"
	"github.com/routedaemon/query/internal/region"
	"github.com/routedaemon/query/internal/rwlock"
	"github.com/routedaemon/query/internal/tree"
)

// BatchSize is the maximum number of queue entries a single Tick applies
// before releasing the write lock, bounding worst-case reader starvation
// under the writer-prefer lock (spec §4.5).
const BatchSize = 16

// formatConcurrency bounds how many external RouteFormatter calls a single
// Tick runs at once while rendering a batch.
const formatConcurrency = 4

// RouteFormatter renders the current route set for pfx into a byte stream,
// or reports that the prefix currently has no routes. It is the "external
// route-formatter" the writer pipeline delegates to (spec §4.6); the core
// query package has no opinion on the textual format.
type RouteFormatter interface {
	Format(pfx netip.Prefix) (text []byte, present bool, err error)
}

// Writer owns the writer-side half of a region: the allocator, the radix
// tree, and the debounce queue. Only one process may ever construct a
// Writer over a given region name.
type Writer struct {
	region *region.Region
	alloc  *alloc.Allocator
	tree   *tree.Table
	lock   *rwlock.Lock
	queue  *queue.Queue
	closed bool
}

// CreateWriter creates (or truncates) the named shared-memory region to
// numBlocks blocks and returns a Writer ready to accept notifications.
func CreateWriter(name string, numBlocks uint32) (*Writer, error) {
	r, err := region.Open(name, numBlocks)
	if err != nil {
		return nil, fmt.Errorf("query: CreateWriter: %w", err)
	}

	header := r.Header()
	if block.TagOf(header) != block.TagHeader {
		block.SetTag(header, block.TagHeader)
	}

	a := alloc.New(r, numBlocks)
	t := tree.New(r, a)
	l := rwlock.New(header)

	return &Writer{region: r, alloc: a, tree: t, lock: l, queue: queue.New(nil)}, nil
}

// renderResult is one batch entry's outcome after rendering but before
// installation: a withdrawal, or the text an announce should carry.
type renderResult struct {
	entry   queue.Entry
	text    []byte
	present bool
}

// Notify records a route-change notification for later application; see
// spec §4.6 for the debounce protocol. It never blocks and never touches
// the region. It returns ErrClosed if the Writer has been closed.
func (w *Writer) Notify(pfx netip.Prefix, present bool) error {
	if w.closed {
		return ErrClosed
	}

	w.queue.Notify(pfx, present)

	return nil
}

// Tick applies up to BatchSize queued entries under the exclusive lock. Each
// announced entry's route text is rendered by rf concurrently, bounded by
// formatConcurrency, before the lock is taken: the external formatter call
// (spec §4.6) never touches the region, so nothing stops several running at
// once. Installation into the tree then happens sequentially and in FIFO
// order under the lock, since the tree mutates in place and must present a
// single atomic version to readers (spec §4.5). If Get runs out of region
// capacity partway through, the failing entry and everything still queued
// behind it in this batch are pushed back to the tail and Tick stops, per
// spec §4.6's "re-enqueue the entry at the tail and stop".
func (w *Writer) Tick(ctx context.Context, rf RouteFormatter) (applied int, err error) {
	if w.closed {
		return 0, ErrClosed
	}

	batch := w.queue.PopBatch(BatchSize)
	if len(batch) == 0 {
		return 0, nil
	}

	rendered := make([]renderResult, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(formatConcurrency)

	for i, e := range batch {
		g.Go(func() error {
			rendered[i] = w.render(e, rf)
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		// The caller's context was canceled mid-render: nothing has been
		// installed yet, so the whole batch goes back unchanged.
		for _, e := range batch {
			w.queue.Requeue(e)
		}

		return 0, fmt.Errorf("query: Tick: %w", err)
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	for i, re := range rendered {
		if !re.present {
			w.tree.Delete(re.entry.Prefix)
			applied++
			continue
		}

		head, ok := w.tree.Get(re.entry.Prefix)
		if !ok {
			for _, left := range rendered[i:] {
				w.queue.Requeue(left.entry)
			}

			return applied, alloc.ErrRegionFull
		}

		if _, err := codec.Write(w.region, w.alloc, head, re.text); err != nil {
			// Codec error on one entry: abort just this entry and move on
			// (spec §7.3), it is not a batch failure.
			applied++
			continue
		}

		applied++
	}

	return applied, nil
}

// render resolves one queued entry's route text ahead of the lock. A
// withdrawal or a formatter error both resolve to present=false, so the
// installation loop deletes rather than writes.
func (w *Writer) render(e queue.Entry, rf RouteFormatter) renderResult {
	if !e.Present {
		return renderResult{entry: e}
	}

	text, present, err := rf.Format(e.Prefix)
	if err != nil {
		// Formatter error: abort just this entry, move on (spec §7.3).
		return renderResult{entry: e}
	}

	return renderResult{entry: e, text: text, present: present}
}

// Pending reports how many distinct prefixes currently await application.
func (w *Writer) Pending() int { return w.queue.Len() }

// Close unmaps the region. It does not remove the backing shared-memory
// object. Calling Close more than once is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true

	return w.region.Detach()
}
