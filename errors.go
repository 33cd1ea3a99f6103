// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

package query

import "errors"

// ErrNotFound is returned by Find when no entry matches the requested
// prefix, or by Find/FindAll when the input text is malformed (spec §7.5:
// "malformed reader input" is reported the same way as "absent").
var ErrNotFound = errors.New("query: not found")

// ErrClosed is returned by any Reader or Writer method attempted after
// Close.
var ErrClosed = errors.New("query: use of closed handle")
