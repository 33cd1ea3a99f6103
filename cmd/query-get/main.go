// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

// Command query-get is a one-shot reader CLI, the Go shape of the original
// protocol's client.c line commands: "find <prefix>" for an exact-match
// lookup, "find_all <address>" for the longest-prefix-first concatenation.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/routedaemon/query"
)

func main() {
	log.SetFlags(0)

	shm := flag.String("shm", "query-table", "shared-memory region name")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		log.Fatalf("usage: query-get [-shm name] find <prefix> | find_all <address>")
	}

	r, err := query.Open(*shm)
	if err != nil {
		log.Fatalf("query-get: %v", err)
	}
	defer r.Close()

	verb, arg := args[0], args[1]

	var out []byte

	switch verb {
	case "find":
		out, err = r.Find(arg)
	case "find_all":
		out, err = r.FindAll(arg)
	default:
		log.Fatalf("query-get: unknown verb %q, want find or find_all", verb)
	}

	if err != nil {
		log.Fatalf("query-get: %v", err)
	}

	os.Stdout.Write(out)
	fmt.Println()
}
