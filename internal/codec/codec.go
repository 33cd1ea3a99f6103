// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

// Package codec implements the payload chain described in spec §4.4: a
// leaf's value is a deflate stream spread across a singly linked chain of
// Data blocks. Write grows or shrinks the chain as needed; Read
// decompresses it into a single buffer.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/routedaemon/query/internal/alloc"
	"github.com/routedaemon/query/internal/block"
)

// ErrCorrupt is returned when a chain's compressed bytes fail to inflate.
// Per spec §4.4/§7.3, the caller must treat this as "not found", never
// return a partial result.
var ErrCorrupt = errors.New("codec: corrupt payload chain")

// BlockSource gives the codec access to block bytes without depending on
// the concrete region type.
type BlockSource interface {
	Block(block.Index) *block.Raw
}

// chainWriter is an io.Writer that spreads bytes across a Data block chain,
// allocating new blocks only when the current one fills up and reusing any
// already-linked successor before allocating.
type chainWriter struct {
	region BlockSource
	alloc  *alloc.Allocator
	cur    block.Index
	off    int
}

func (w *chainWriter) Write(p []byte) (int, error) {
	written := 0

	for len(p) > 0 {
		d := block.AsData(w.region.Block(w.cur))
		buf := d.Payload()

		n := copy(buf[w.off:], p)
		w.off += n
		written += n
		p = p[n:]
		d.SetLength(w.off)

		if len(p) == 0 {
			break
		}

		next := d.Next()
		if next == 0 {
			next = w.alloc.Alloc()
			if next == 0 {
				return written, fmt.Errorf("codec: %w", alloc.ErrRegionFull)
			}

			block.NewData(w.region.Block(next))
			d.SetNext(next)
		}

		w.cur = next
		w.off = 0
	}

	return written, nil
}

// chainReader is an io.Reader that walks a Data block chain front to back.
type chainReader struct {
	region BlockSource
	cur    block.Index
	off    int
}

func (r *chainReader) Read(p []byte) (int, error) {
	for {
		if r.cur == 0 {
			return 0, io.EOF
		}

		d := block.AsData(r.region.Block(r.cur))
		buf := d.Payload()[:d.Length()]

		if r.off >= len(buf) {
			r.cur = d.Next()
			r.off = 0

			continue
		}

		n := copy(p, buf[r.off:])
		r.off += n

		return n, nil
	}
}

// Write compresses data into a Data block chain starting at head (0 if the
// leaf has no chain yet) and returns the (possibly newly allocated) head
// index. Any blocks left over from a previously longer chain are freed; the
// new tail's Next is reset to 0, which is the chain's only end-of-payload
// signal (spec §4.4).
func Write(region BlockSource, a *alloc.Allocator, head block.Index, data []byte) (block.Index, error) {
	if head == 0 {
		head = a.Alloc()
		if head == 0 {
			return 0, fmt.Errorf("codec: Write: %w", alloc.ErrRegionFull)
		}

		block.NewData(region.Block(head))
	}

	cw := &chainWriter{region: region, alloc: a, cur: head}

	zw, err := flate.NewWriter(cw, flate.DefaultCompression)
	if err != nil {
		return 0, fmt.Errorf("codec: Write: %w", err)
	}

	if _, err := zw.Write(data); err != nil {
		return 0, err
	}

	if err := zw.Close(); err != nil {
		return 0, err
	}

	tail := block.AsData(region.Block(cw.cur))
	if stale := tail.Next(); stale != 0 {
		tail.SetNext(0)
		a.FreeChain(region, stale)
	}

	return head, nil
}

// Read decompresses the chain starting at head. Any inflate error aborts
// with ErrCorrupt rather than returning a partial buffer.
func Read(region BlockSource, head block.Index) ([]byte, error) {
	if head == 0 {
		return nil, nil
	}

	cr := &chainReader{region: region, cur: head}

	zr := flate.NewReader(cr)
	defer zr.Close()

	var out bytes.Buffer
	if _, err := io.Copy(&out, zr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return out.Bytes(), nil
}
