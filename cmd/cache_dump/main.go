// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// cache_dump inspects the lrot-server query cache.
//
// The server caches history query result sets in BadgerDB. This tool opens
// the cache and prints one block per entry: key, TTL remaining, encoded
// size, row count and the first few rows.
//
// Usage:
//
//	cache_dump [--path /var/lib/lrot/cache] [--rows 3] [--purge]
//
// If --path is not given, reads LROT_CACHE_DIR from the environment.
// --purge deletes every cached result set instead of printing them.
//
// Exit codes:
//
//	0 - success (including an empty or absent cache)
//	1 - error opening or reading the database
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/lrot/services/datasource"
	"github.com/AleutianAI/lrot/services/datatypes"
	dgbadger "github.com/dgraph-io/badger/v4"
)

func main() {
	pathFlag := flag.String("path", "", "Path to the cache BadgerDB directory (overrides LROT_CACHE_DIR)")
	rowsFlag := flag.Int("rows", 3, "Rows to print per entry")
	purgeFlag := flag.Bool("purge", false, "Delete every cached result set")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("LROT_CACHE_DIR")
	}
	if dbPath == "" {
		fatalf("no cache path: pass --path or set LROT_CACHE_DIR")
	}

	fmt.Printf("Query cache path: %s\n", dbPath)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Cache directory does not exist. The server has not cached any queries yet.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil).
		WithReadOnly(!*purgeFlag)
	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	if *purgeFlag {
		n, err := datasource.DeletePrefix(context.Background(), db, []byte(datasource.CacheKeyPrefix))
		if err != nil {
			fatalf("purge: %v", err)
		}
		fmt.Printf("Deleted %d cached result set%s.\n", n, plural(n, "", "s"))
		return
	}

	entries, err := readEntries(db)
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}
	printEntries(os.Stdout, entries, *rowsFlag, time.Now())
}

// entry is one cached result set.
type entry struct {
	key       string
	source    string
	expiresAt time.Time
	hasExpiry bool
	rows      []datatypes.Row
	rawSize   int
	decodeErr error
}

// readEntries collects every entry under datasource.CacheKeyPrefix.
func readEntries(db *dgbadger.DB) ([]entry, error) {
	var entries []entry
	err := db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(datasource.CacheKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			e := entry{key: key}
			if source, _, ok := strings.Cut(strings.TrimPrefix(key, datasource.CacheKeyPrefix), "/"); ok {
				e.source = source
			}
			// ExpiresAt is Unix seconds, 0 means no expiry.
			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)
			e.rows, e.decodeErr = datasource.DecodeRows(raw)
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

func printEntries(w io.Writer, entries []entry, sampleRows int, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "\nNo cached result sets found.")
		return
	}

	fmt.Fprintf(w, "\nFound %d cached result set%s:\n", len(entries), plural(len(entries), "", "s"))
	fmt.Fprintln(w, strings.Repeat("─", 80))

	for i, e := range entries {
		fmt.Fprintf(w, "\n[%d] Key:      %s\n", i+1, e.key)
		fmt.Fprintf(w, "    Source:   %s\n", e.source)

		if e.hasExpiry {
			remaining := e.expiresAt.Sub(now)
			if remaining < 0 {
				fmt.Fprintf(w, "    TTL:      EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Fprintf(w, "    TTL:      %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Fprintln(w, "    TTL:      no expiry set")
		}

		fmt.Fprintf(w, "    Raw size: %s\n", formatBytes(e.rawSize))

		if e.decodeErr != nil {
			fmt.Fprintf(w, "    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		fmt.Fprintf(w, "    Rows:     %d\n", len(e.rows))
		for j, row := range e.rows {
			if j >= sampleRows {
				fmt.Fprintf(w, "      ... %d more\n", len(e.rows)-sampleRows)
				break
			}
			fmt.Fprintf(w, "      %s\n", formatRow(row))
		}
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("─", 80))
	fmt.Fprintf(w, "Summary: %d result set%s\n", len(entries), plural(len(entries), "", "s"))
}

// formatRow renders a row as col=value pairs in column order.
func formatRow(row datatypes.Row) string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	parts := make([]string, len(cols))
	for i, col := range cols {
		v := row[col]
		if v == nil {
			parts[i] = col + "=NULL"
			continue
		}
		parts[i] = fmt.Sprintf("%s=%v", col, v)
	}
	return strings.Join(parts, " ")
}

func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "cache_dump: "+format+"\n", args...)
	os.Exit(1)
}
