// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

package query

import (
	"fmt"
	"net/netip"

	"github.com/routedaemon/query/internal/codec"
	"github.com/routedaemon/query/internal/region"
	"github.com/routedaemon/query/internal/rwlock"
	"github.com/routedaemon/query/internal/tree"
)

// Reader attaches to an existing region for lookups. Multiple Readers, in
// the same or different processes, may attach to the same region
// concurrently; a Reader never mutates tree bytes, only the embedded lock.
type Reader struct {
	region *region.Region
	tree   *tree.Table
	lock   *rwlock.Lock
	closed bool
}

// Open attaches to an existing named region. It fails if the region does
// not exist or its size is not a whole number of blocks. Unlike
// CreateWriter, Open never tags or otherwise writes region bytes beyond the
// lock blob: the root block must already be a Link block, written by
// whichever process called CreateWriter first (spec §4.1, §6).
func Open(name string) (*Reader, error) {
	r, err := region.Attach(name)
	if err != nil {
		return nil, fmt.Errorf("query: Open: %w", err)
	}

	t, err := tree.Open(r)
	if err != nil {
		r.Detach()
		return nil, fmt.Errorf("query: Open: %w", err)
	}

	return &Reader{
		region: r,
		tree:   t,
		lock:   rwlock.New(r.Header()),
	}, nil
}

// Find looks up the exact prefix spelled by text (e.g. "10.0.0.0/8" or
// "2001:db8::/32") and returns its decompressed route text. It returns
// ErrNotFound both when text is malformed and when no such prefix is
// stored (spec §4.7, §7.5).
func (r *Reader) Find(text string) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}

	pfx, err := netip.ParsePrefix(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrNotFound, text, err)
	}

	return r.findPrefix(pfx)
}

func (r *Reader) findPrefix(pfx netip.Prefix) ([]byte, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	head, ok := r.tree.Find(pfx)
	if !ok {
		return nil, ErrNotFound
	}

	out, err := codec.Read(r.region, head)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, pfx)
	}

	return out, nil
}

// FindAll looks up addrText (e.g. "10.1.2.3") against every covering
// prefix length from longest to /0 and concatenates the route text of each
// one present, longest-prefix-first (spec §4.7). It acquires the read lock
// once for the whole walk, so the result reflects a single consistent
// region state.
func (r *Reader) FindAll(addrText string) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}

	addr, err := netip.ParseAddr(addrText)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrNotFound, addrText, err)
	}

	r.lock.RLock()
	defer r.lock.RUnlock()

	var out []byte

	for pxlen := addr.BitLen(); pxlen >= 0; pxlen-- {
		pfx := netip.PrefixFrom(addr, pxlen)

		head, ok := r.tree.Find(pfx)
		if !ok {
			continue
		}

		text, err := codec.Read(r.region, head)
		if err != nil {
			continue
		}

		out = append(out, text...)
	}

	return out, nil
}

// Close unmaps the region. Calling Close more than once is a no-op.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}

	r.closed = true

	return r.region.Detach()
}
