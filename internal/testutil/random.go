// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

// Package testutil provides randomized-input generators and a slow
// reference table, shared by the property tests under internal/tree and
// internal/alloc.
package testutil

import (
	"math/rand/v2"
	"net/netip"
)

// RandomPrefix returns a uniformly chosen IPv4 or IPv6 prefix, masked to
// its own length.
func RandomPrefix(prng *rand.Rand) netip.Prefix {
	if prng.IntN(2) == 1 {
		return RandomPrefix4(prng)
	}
	return RandomPrefix6(prng)
}

func RandomPrefix4(prng *rand.Rand) netip.Prefix {
	bits := prng.IntN(33)
	return netip.PrefixFrom(RandomAddr4(prng), bits).Masked()
}

func RandomPrefix6(prng *rand.Rand) netip.Prefix {
	bits := prng.IntN(129)
	return netip.PrefixFrom(RandomAddr6(prng), bits).Masked()
}

func RandomAddr4(prng *rand.Rand) netip.Addr {
	var b [4]byte
	for i := range b {
		b[i] = byte(prng.UintN(256))
	}
	return netip.AddrFrom4(b)
}

func RandomAddr6(prng *rand.Rand) netip.Addr {
	var b [16]byte
	for i := range b {
		b[i] = byte(prng.UintN(256))
	}
	return netip.AddrFrom16(b)
}

func RandomAddr(prng *rand.Rand) netip.Addr {
	if prng.IntN(2) == 1 {
		return RandomAddr4(prng)
	}
	return RandomAddr6(prng)
}

// RandomPayload returns n pseudo-random bytes, standing in for a rendered
// route summary of arbitrary length.
func RandomPayload(prng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(prng.UintN(256))
	}
	return b
}
