// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

// Package queue implements the writer's debounce queue (spec §4.6): route
// notifications are coalesced by (prefix, pxlen), with bursts of updates to
// the same prefix folded into a single FIFO position as long as they keep
// arriving inside the debounce window.
package queue

import (
	"container/list"
	"net/netip"
	"time"
)

// DebounceWindow is how recently an entry must have been queued for a
// repeat notification to move it to the FIFO tail instead of leaving its
// position untouched.
const DebounceWindow = 10 * time.Second

// key identifies one route in the queue, independent of its present/absent
// state (a later notification for the same prefix always supersedes an
// earlier one, regardless of what each said).
type key struct {
	addr  netip.Addr
	pxlen int
}

// Entry is one pending route-change notification.
type Entry struct {
	Prefix  netip.Prefix
	Present bool
	born    time.Time
}

// Queue is a hash-map-with-linked-list-intrusion FIFO: the map gives O(1)
// lookup by (prefix, pxlen), the list gives arrival order. Not safe for
// concurrent use; the writer event loop is single-threaded per spec §5.
type Queue struct {
	ll    *list.List
	index map[key]*list.Element
	now   func() time.Time
}

// New creates an empty queue. now defaults to time.Now if nil; tests may
// substitute a deterministic clock.
func New(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}

	return &Queue{
		ll:    list.New(),
		index: make(map[key]*list.Element),
		now:   now,
	}
}

// Notify records a route-change notification, implementing spec §4.6's
// three-step protocol: insert if absent; if present and still inside the
// debounce window, move to the tail and refresh the payload; otherwise
// leave the FIFO position untouched but still refresh present/absent state,
// since the notification itself is never dropped, only its queue position.
func (q *Queue) Notify(pfx netip.Prefix, present bool) {
	k := key{addr: pfx.Addr(), pxlen: pfx.Bits()}
	now := q.now()

	if ele, ok := q.index[k]; ok {
		e := ele.Value.(*Entry)
		e.Present = present

		if now.Sub(e.born) < DebounceWindow {
			e.born = now
			q.ll.MoveToBack(ele)
		}

		return
	}

	e := &Entry{Prefix: pfx, Present: present, born: now}
	q.index[k] = q.ll.PushBack(e)
}

// PopBatch removes and returns up to n entries from the front of the FIFO,
// in arrival order. It is the writer's job to re-enqueue any entry it could
// not apply (region full); Requeue exists for exactly that.
func (q *Queue) PopBatch(n int) []Entry {
	out := make([]Entry, 0, n)

	for len(out) < n {
		front := q.ll.Front()
		if front == nil {
			break
		}

		e := front.Value.(*Entry)
		q.ll.Remove(front)
		delete(q.index, key{addr: e.Prefix.Addr(), pxlen: e.Prefix.Bits()})

		out = append(out, *e)
	}

	return out
}

// Requeue re-appends an entry to the FIFO tail, for an update that could
// not be applied (spec §4.6: "re-enqueue the entry at the tail and stop").
// If a newer notification for the same prefix has arrived in the meantime,
// Requeue does not clobber it.
func (q *Queue) Requeue(e Entry) {
	k := key{addr: e.Prefix.Addr(), pxlen: e.Prefix.Bits()}
	if _, exists := q.index[k]; exists {
		return
	}

	e.born = q.now()
	q.index[k] = q.ll.PushBack(&e)
}

// Len reports the number of distinct pending entries.
func (q *Queue) Len() int { return q.ll.Len() }

// Empty reports whether the queue has no pending entries.
func (q *Queue) Empty() bool { return q.ll.Len() == 0 }
