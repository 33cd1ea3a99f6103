// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

// Package rwlock implements the cross-process reader/writer lock embedded
// in the region's header block (spec §4.5): writer-prefer, non-recursive,
// single writer / many readers. Go has no native process-shared pthread
// rwlock, so the lock is built directly out of sync/atomic operations on
// three uint32 words living in shared memory, the same technique the
// pack's mmap'd IPC structures (seqlocks, ring buffers) use for
// cross-process coordination without a kernel primitive.
package rwlock

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/routedaemon/query/internal/block"
)

const (
	stateFree   = 0
	stateLocked = 1
)

// blob is the in-memory layout of the lock, starting at block.HeaderLockOff
// within the header block. It is 12 bytes, 4-byte aligned.
type blob struct {
	state          uint32 // 0 = free, 1 = exclusively locked
	readers        uint32 // active reader count
	writersWaiting uint32 // pending writers, used to starve new readers
}

// Lock is a handle onto the lock blob living in shared memory at a fixed
// offset of the header block. Every attached process (reader or writer)
// constructs its own Lock value wrapping the same bytes.
type Lock struct {
	b *blob
}

// New wraps the lock blob embedded in header, the raw bytes of block 0.
func New(header *block.Raw) *Lock {
	off := block.HeaderLockOff
	return &Lock{b: (*blob)(unsafe.Pointer(&header[off]))}
}

// spin backs off briefly between failed CAS attempts; this lock is held for
// the duration of one lookup or one batch of up to 16 writer-queue entries,
// both short compared to a scheduling quantum, so yielding the OS thread is
// preferable to a sleeping primitive.
func spin(attempt int) {
	runtime.Gosched()
}

// RLock acquires the shared (reader) lock. It blocks while a writer holds
// the lock or is waiting, implementing the writer-prefer policy.
func (l *Lock) RLock() {
	for attempt := 0; ; attempt++ {
		if atomic.LoadUint32(&l.b.writersWaiting) > 0 {
			spin(attempt)
			continue
		}

		atomic.AddUint32(&l.b.readers, 1)

		if atomic.LoadUint32(&l.b.state) == stateFree && atomic.LoadUint32(&l.b.writersWaiting) == 0 {
			return
		}

		// A writer snuck in (or announced intent) between our checks;
		// back off and retry rather than proceed unsafely.
		atomic.AddUint32(&l.b.readers, ^uint32(0))
		spin(attempt)
	}
}

// RUnlock releases the shared lock.
func (l *Lock) RUnlock() {
	atomic.AddUint32(&l.b.readers, ^uint32(0))
}

// Lock acquires the exclusive (writer) lock, waiting out any current
// readers and any writer that got there first.
func (l *Lock) Lock() {
	atomic.AddUint32(&l.b.writersWaiting, 1)

	for attempt := 0; ; attempt++ {
		if atomic.CompareAndSwapUint32(&l.b.state, stateFree, stateLocked) {
			break
		}

		spin(attempt)
	}

	for attempt := 0; atomic.LoadUint32(&l.b.readers) > 0; attempt++ {
		spin(attempt)
	}

	atomic.AddUint32(&l.b.writersWaiting, ^uint32(0))
}

// Unlock releases the exclusive lock.
func (l *Lock) Unlock() {
	atomic.StoreUint32(&l.b.state, stateFree)
}
