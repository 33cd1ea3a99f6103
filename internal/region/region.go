// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

// Package region maps the shared-memory block array the query tree lives
// in. The region is a contiguous sequence of N uniform block.Size blocks,
// identified by a process-global name (a POSIX shared-memory object path
// under /dev/shm). The writer creates and truncates it; readers only ever
// open an existing region.
package region

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/routedaemon/query/internal/block"
)

// ErrSizeMismatch is returned by Attach when the mapped region's size does
// not correspond to a whole number of blocks, or Open is asked to recreate
// a differently-sized region that is still in use.
var ErrSizeMismatch = errors.New("region: size mismatch")

// Region is a memory-mapped array of fixed-size blocks, shared across
// processes via a named backing file.
type Region struct {
	name string
	data []byte // len(data) == n*block.Size
	n    uint32
}

func shmPath(name string) string {
	return "/dev/shm/" + name
}

// Open creates (or truncates) the named region to hold n blocks and maps it
// read/write. Only the writer process calls Open; it owns the region's
// lifetime.
func Open(name string, n uint32) (*Region, error) {
	if n < 2 {
		return nil, fmt.Errorf("region: Open %q: need at least 2 blocks (header+root), got %d", name, n)
	}

	size := int64(n) * block.Size

	f, err := os.OpenFile(shmPath(name), os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("region: Open %q: %w", name, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return nil, fmt.Errorf("region: Open %q: truncate: %w", name, err)
	}

	return mapFile(f, name, n)
}

// Attach maps an existing region read/write (write access is needed only to
// take the lock embedded in block 0; readers never mutate tree bytes). The
// region's size is taken from the file itself and must be a whole number of
// blocks.
func Attach(name string) (*Region, error) {
	f, err := os.OpenFile(shmPath(name), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("region: Attach %q: %w", name, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("region: Attach %q: %w", name, err)
	}

	if fi.Size()%block.Size != 0 || fi.Size() == 0 {
		return nil, fmt.Errorf("region: Attach %q: %w: file size %d is not a multiple of block size %d",
			name, ErrSizeMismatch, fi.Size(), block.Size)
	}

	return mapFile(f, name, uint32(fi.Size()/block.Size))
}

func mapFile(f *os.File, name string, n uint32) (*Region, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(n)*block.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("region: mmap %q: %w", name, err)
	}

	return &Region{name: name, data: data, n: n}, nil
}

// Detach unmaps the region. It does not remove the backing shared-memory
// object; the writer that created it owns that decision.
func (r *Region) Detach() error {
	if r.data == nil {
		return nil
	}

	err := unix.Munmap(r.data)
	r.data = nil

	return err
}

// NumBlocks reports the capacity of the region, in blocks.
func (r *Region) NumBlocks() uint32 { return r.n }

// Name returns the region's shared-memory object name.
func (r *Region) Name() string { return r.name }

// Header returns a pointer to the raw bytes of block 0, which carries the
// cross-process reader/writer lock (internal/rwlock) and no other mutable
// state.
func (r *Region) Header() *block.Raw {
	return (*block.Raw)(r.data[0:block.Size])
}

// Block returns a pointer to the raw bytes of block i, i in [1,NumBlocks).
// The caller must hold the appropriate lock (internal/rwlock) before
// reading or writing through it, and must not retain the pointer past
// Detach.
func (r *Region) Block(i block.Index) *block.Raw {
	if i == 0 || uint32(i) >= r.n {
		panic(fmt.Sprintf("region: Block: index %d out of range [1,%d)", i, r.n))
	}

	off := uint32(i) * block.Size

	return (*block.Raw)(r.data[off : off+block.Size])
}

// Zero clears block i to all-zero bytes, used by the allocator before
// handing out a fresh index.
func (r *Region) Zero(i block.Index) {
	raw := r.Block(i)
	clear(raw[:])
}
