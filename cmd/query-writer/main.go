// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

// Command query-writer runs the writer side of a shared-memory routing
// query table. It reads route-change notifications, one per line, from
// stdin and publishes them into the region on a fixed tick.
//
// Line format: "<prefix> [route text...]". A line with no text after the
// prefix withdraws it; any other line inserts/updates it with that text as
// its rendered route summary, standing in for the external route-formatter
// spec §4.6 delegates to.
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/routedaemon/query"
)

// tickInterval is how often pending notifications are applied to the
// region; spec §4.6 reschedules the apply event whenever the queue is
// non-empty after a batch rather than pinning a fixed period, but a timer
// this short makes that indistinguishable in practice for a CLI front-end.
const tickInterval = 200 * time.Millisecond

// upstreamTable stands in for the host's route table: the thing
// fmtRoutes.Format queries at apply time, independent of when the
// notification that triggered the apply arrived.
type upstreamTable struct {
	mu   sync.Mutex
	text map[netip.Prefix][]byte
}

func newUpstreamTable() *upstreamTable {
	return &upstreamTable{text: make(map[netip.Prefix][]byte)}
}

func (u *upstreamTable) set(pfx netip.Prefix, text []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.text[pfx] = text
}

func (u *upstreamTable) clear(pfx netip.Prefix) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.text, pfx)
}

func (u *upstreamTable) Format(pfx netip.Prefix) ([]byte, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	text, ok := u.text[pfx]
	return text, ok, nil
}

func main() {
	log.SetFlags(log.Lmicroseconds)

	shm := flag.String("shm", "query-table", "shared-memory region name")
	size := flag.Uint("size", 65536, "region capacity, in 512-byte blocks")
	flag.Parse()

	w, err := query.CreateWriter(*shm, uint32(*size))
	if err != nil {
		log.Fatalf("query-writer: %v", err)
	}
	defer w.Close()

	upstream := newUpstreamTable()

	go tickLoop(w, upstream)

	scanLines(w, upstream)
}

func tickLoop(w *query.Writer, rf query.RouteFormatter) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for range ticker.C {
		for w.Pending() > 0 {
			applied, err := w.Tick(context.Background(), rf)
			if err != nil {
				log.Printf("query-writer: tick: %v", err)
				break
			}
			if applied == 0 {
				break
			}
		}
	}
}

func scanLines(w *query.Writer, upstream *upstreamTable) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, " ", 2)

		pfx, err := netip.ParsePrefix(fields[0])
		if err != nil {
			log.Printf("query-writer: bad prefix %q: %v", fields[0], err)
			continue
		}

		if len(fields) == 2 {
			upstream.set(pfx, []byte(fields[1]))
			if err := w.Notify(pfx, true); err != nil {
				log.Fatalf("query-writer: %v", err)
			}
		} else {
			upstream.clear(pfx)
			if err := w.Notify(pfx, false); err != nil {
				log.Fatalf("query-writer: %v", err)
			}
		}
	}

	if err := sc.Err(); err != nil {
		log.Fatalf("query-writer: stdin: %v", err)
	}
}
