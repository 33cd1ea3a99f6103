// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"testing"

	"github.com/routedaemon/query/internal/alloc"
	"github.com/routedaemon/query/internal/testutil"
)

type fakeFormatter map[netip.Prefix][]byte

func (f fakeFormatter) Format(pfx netip.Prefix) ([]byte, bool, error) {
	text, ok := f[pfx]
	return text, ok, nil
}

func testRegionName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("query-endtoend-%s-%d", t.Name(), rand.Uint64())
}

func TestEndToEndFindAndFindAll(t *testing.T) {
	t.Parallel()

	name := testRegionName(t)

	w, err := CreateWriter(name, 4096)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	rf := fakeFormatter{
		netip.MustParsePrefix("10.0.0.0/8"):    []byte("A"),
		netip.MustParsePrefix("10.1.0.0/16"):   []byte("B"),
		netip.MustParsePrefix("192.168.0.0/24"): []byte("C"),
	}

	for pfx := range rf {
		if err := w.Notify(pfx, true); err != nil {
			t.Fatalf("Notify(%s): %v", pfx, err)
		}
	}

	for w.Pending() > 0 {
		if _, err := w.Tick(context.Background(), rf); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	r, err := Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	got, err := r.Find("10.0.0.0/8")
	if err != nil || string(got) != "A" {
		t.Fatalf("Find(10.0.0.0/8) = (%q, %v), want (\"A\", nil)", got, err)
	}

	if _, err := r.Find("172.16.0.0/12"); err == nil {
		t.Fatal("Find of an absent prefix should return an error")
	}

	all, err := r.FindAll("10.1.2.3")
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if string(all) != "BA" {
		t.Fatalf("FindAll(10.1.2.3) = %q, want \"BA\" (longest prefix first)", all)
	}

	all2, err := r.FindAll("10.2.2.3")
	if err != nil || string(all2) != "A" {
		t.Fatalf("FindAll(10.2.2.3) = (%q, %v), want (\"A\", nil)", all2, err)
	}
}

func TestWithdrawRemovesEntry(t *testing.T) {
	t.Parallel()

	name := testRegionName(t)

	w, err := CreateWriter(name, 4096)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	pfx := netip.MustParsePrefix("10.0.0.0/8")
	rf := fakeFormatter{pfx: []byte("A")}

	if err := w.Notify(pfx, true); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if _, err := w.Tick(context.Background(), rf); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if err := w.Notify(pfx, false); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if _, err := w.Tick(context.Background(), rf); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	r, err := Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	if _, err := r.Find("10.0.0.0/8"); err == nil {
		t.Fatal("Find after withdraw should miss")
	}
}

func TestFindMalformedInput(t *testing.T) {
	t.Parallel()

	name := testRegionName(t)

	w, err := CreateWriter(name, 64)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	r, err := Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	if _, err := r.Find("not-a-prefix"); err == nil {
		t.Fatal("Find of malformed text should return an error")
	}
	if _, err := r.FindAll("not-an-address"); err == nil {
		t.Fatal("FindAll of malformed text should return an error")
	}
}

func TestLargePayloadSpansMultipleDataBlocks(t *testing.T) {
	t.Parallel()

	name := testRegionName(t)

	w, err := CreateWriter(name, 4096)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	pfx := netip.MustParsePrefix("192.168.0.0/24")
	big := make([]byte, 1000)
	rand.New(rand.NewPCG(9, 9)).Read(big) // incompressible, forces a multi-block chain

	rf := fakeFormatter{pfx: big}
	if err := w.Notify(pfx, true); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if _, err := w.Tick(context.Background(), rf); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	r, err := Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	got, err := r.Find("192.168.0.0/24")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if string(got) != string(big) {
		t.Fatalf("Find returned %d bytes, want %d matching bytes", len(got), len(big))
	}
}

func TestTickStopsAndRequeuesOnRegionFull(t *testing.T) {
	t.Parallel()

	name := testRegionName(t)

	// Header (0) + root (1) leave 14 usable blocks; each /6 prefix below
	// resolves to a shortcut directly in the root's link[], costing exactly
	// one Data block, so the 15th announce in the batch exhausts the region.
	w, err := CreateWriter(name, 16)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	const n = 16
	rf := make(fakeFormatter, n)
	pfxs := make([]netip.Prefix, n)
	for i := range n {
		pfxs[i] = netip.PrefixFrom(netip.AddrFrom4([4]byte{byte(i << 2), 0, 0, 0}), 6)
		rf[pfxs[i]] = []byte("x")
	}

	for _, pfx := range pfxs {
		if err := w.Notify(pfx, true); err != nil {
			t.Fatalf("Notify(%s): %v", pfx, err)
		}
	}

	applied, err := w.Tick(context.Background(), rf)
	if !errors.Is(err, alloc.ErrRegionFull) {
		t.Fatalf("Tick error = %v, want alloc.ErrRegionFull", err)
	}
	if applied != 14 {
		t.Fatalf("applied = %d, want 14", applied)
	}
	if want := n - applied; w.Pending() != want {
		t.Fatalf("Pending() = %d, want %d (failing entry and everything behind it requeued)", w.Pending(), want)
	}
}

func TestClosedHandleReturnsErrClosed(t *testing.T) {
	t.Parallel()

	name := testRegionName(t)

	w, err := CreateWriter(name, 64)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}

	r, err := Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Writer.Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Reader.Close: %v", err)
	}

	if err := w.Notify(netip.MustParsePrefix("10.0.0.0/8"), true); !errors.Is(err, ErrClosed) {
		t.Fatalf("Notify after Close = %v, want ErrClosed", err)
	}
	if _, err := w.Tick(context.Background(), fakeFormatter{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Tick after Close = %v, want ErrClosed", err)
	}
	if _, err := r.Find("10.0.0.0/8"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Find after Close = %v, want ErrClosed", err)
	}
	if _, err := r.FindAll("10.0.0.0"); !errors.Is(err, ErrClosed) {
		t.Fatalf("FindAll after Close = %v, want ErrClosed", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("second Writer.Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Reader.Close: %v", err)
	}
}

// TestFindAllAgainstOracle drives both IPv4 and IPv6 prefixes (direct and
// via a shared neighborhood, to exercise nested/overlapping covers) through
// a real Writer/Reader pair and checks FindAll's longest-prefix-first
// concatenation against testutil.Oracle's CoveringDesc.
func TestFindAllAgainstOracle(t *testing.T) {
	t.Parallel()

	name := testRegionName(t)

	w, err := CreateWriter(name, 20000)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	prng := rand.New(rand.NewPCG(7, 7))
	rf := make(fakeFormatter)
	var oracle testutil.Oracle
	var seen []netip.Prefix

	narrow := netip.MustParsePrefix("172.20.0.0/16").Addr()

	randPfx := func() netip.Prefix {
		switch prng.IntN(3) {
		case 0:
			bits := prng.IntN(17) + 16 // 16..32 under the shared /16, for overlap coverage
			return netip.PrefixFrom(narrow, bits).Masked()
		case 1:
			return testutil.RandomPrefix4(prng)
		default:
			return testutil.RandomPrefix6(prng)
		}
	}

	for range 150 {
		var pfx netip.Prefix
		if len(seen) > 0 && prng.IntN(3) == 0 {
			pfx = seen[prng.IntN(len(seen))]
		} else {
			pfx = randPfx()
			seen = append(seen, pfx)
		}

		if prng.IntN(4) == 0 {
			delete(rf, pfx)
			oracle.Delete(pfx)
			if err := w.Notify(pfx, false); err != nil {
				t.Fatalf("Notify: %v", err)
			}
			continue
		}

		payload := testutil.RandomPayload(prng, prng.IntN(40))
		rf[pfx] = payload
		oracle.Set(pfx, payload)
		if err := w.Notify(pfx, true); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	for w.Pending() > 0 {
		if _, err := w.Tick(context.Background(), rf); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	r, err := Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	for range 80 {
		var addr netip.Addr
		if len(seen) > 0 && prng.IntN(2) == 0 {
			addr = seen[prng.IntN(len(seen))].Addr()
		} else {
			addr = testutil.RandomAddr(prng)
		}

		got, err := r.FindAll(addr.String())
		if err != nil {
			t.Fatalf("FindAll(%s): %v", addr, err)
		}

		var want []byte
		for _, v := range oracle.CoveringDesc(addr) {
			want = append(want, v...)
		}

		if !bytes.Equal(got, want) {
			t.Fatalf("FindAll(%s) = %q, want %q", addr, got, want)
		}
	}
}
