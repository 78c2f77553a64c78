// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datasource

// =============================================================================
// CachedSource: result-set memoization in BadgerDB
// =============================================================================
//
// Historical and prior-date queries return the same rows for hours. The
// cache keys each result by SHA256(source name, query, args) and lets
// BadgerDB's TTL expire it. Expired keys return ErrKeyNotFound, which is
// treated as a miss.
//
// Storage layout:
//
//	datasource/rows/v1/{source}/{queryHash}  →  gob-encoded []cachedRow
//	                                             TTL: configured per source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/AleutianAI/lrot/services/datatypes"
	dgbadger "github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"
)

// cacheDefaultTTL is used when the caller passes a non-positive TTL.
const cacheDefaultTTL = 15 * time.Minute

// CacheKeyPrefix prefixes every cached result key.
const CacheKeyPrefix = "datasource/rows/v1/"

var errCacheMiss = errors.New("cache miss")

// cellKind tags the concrete type stored in a cachedCell.
type cellKind uint8

const (
	cellNull cellKind = iota
	cellString
	cellFloat
	cellInt
	cellBool
	cellTime
)

// cachedCell is a gob-friendly tagged value. Row values are interfaces,
// which gob cannot encode without registering every driver type.
type cachedCell struct {
	Kind cellKind
	S    string
	F    float64
	I    int64
	B    bool
	T    time.Time
}

// cachedRow is one row as parallel column and cell slices.
type cachedRow struct {
	Columns []string
	Cells   []cachedCell
}

// CachedSource memoizes an inner Source in BadgerDB.
//
// Description:
//
//	Concurrent identical queries collapse into one upstream call through
//	singleflight. The shared call runs detached from caller cancellation,
//	so one caller giving up neither fails the others nor skips the cache
//	write. Upstream errors are never cached. Cache read or write
//	failures are logged and fall through to the inner source, so a broken
//	cache degrades to no cache.
//
// Thread Safety: Safe for concurrent use.
type CachedSource struct {
	name   string
	inner  Source
	db     *dgbadger.DB
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedSource wraps inner with a BadgerDB-backed cache.
//
// Inputs:
//   - name: Source label used in keys, metrics and logs.
//   - inner: The source to memoize. Must not be nil.
//   - db: Opened BadgerDB. Owned by the caller. Must not be nil.
//   - ttl: Entry lifetime. Non-positive uses 15 minutes.
//   - logger: May be nil.
func NewCachedSource(name string, inner Source, db *dgbadger.DB, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if inner == nil {
		panic("NewCachedSource: inner must not be nil")
	}
	if db == nil {
		panic("NewCachedSource: db must not be nil")
	}
	if ttl <= 0 {
		ttl = cacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{name: name, inner: inner, db: db, ttl: ttl, logger: logger}
}

// Query implements Source.
func (c *CachedSource) Query(ctx context.Context, query string, args ...any) ([]datatypes.Row, error) {
	key := cacheKey(c.name, query, args)

	rows, err := c.load(ctx, key)
	switch {
	case err == nil:
		cacheTotal.WithLabelValues(c.name, "hit").Inc()
		return rows, nil
	case errors.Is(err, errCacheMiss):
		cacheTotal.WithLabelValues(c.name, "miss").Inc()
	default:
		cacheTotal.WithLabelValues(c.name, "error").Inc()
		c.logger.Warn("datasource cache: load failed",
			slog.String("source", c.name),
			slog.String("error", err.Error()),
		)
	}

	// The flight outlives any one caller; each caller stops waiting on its
	// own cancellation.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(string(key), func() (any, error) {
		rows, err := c.inner.Query(flightCtx, query, args...)
		if err != nil {
			return nil, err
		}
		if err := c.save(flightCtx, key, rows); err != nil {
			c.logger.Warn("datasource cache: save failed",
				slog.String("source", c.name),
				slog.String("error", err.Error()),
			)
		}
		return rows, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		c.logger.Debug("datasource cache: shared in-flight query", slog.String("source", c.name))
	}
	return cloneRows(res.Val.([]datatypes.Row)), nil
}

// Invalidate removes every cached result for this source.
func (c *CachedSource) Invalidate(ctx context.Context) (int, error) {
	return DeletePrefix(ctx, c.db, []byte(CacheKeyPrefix+c.name+"/"))
}

func (c *CachedSource) load(ctx context.Context, key []byte) ([]datatypes.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	err := c.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return DecodeRows(raw)
}

func (c *CachedSource) save(ctx context.Context, key []byte, rows []datatypes.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodeRows(rows)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *dgbadger.Txn) error {
		return txn.SetEntry(dgbadger.NewEntry(key, raw).WithTTL(c.ttl))
	})
}

// DeletePrefix deletes every key under prefix and returns how many went.
func DeletePrefix(ctx context.Context, db *dgbadger.DB, prefix []byte) (int, error) {
	var keys [][]byte
	err := db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan prefix: %w", err)
	}
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := db.Update(func(txn *dgbadger.Txn) error { return txn.Delete(k) }); err != nil {
			return 0, fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return len(keys), nil
}

// =============================================================================
// Encoding
// =============================================================================

// cacheKey builds the key for one query. Args are rendered with %#v so
// "1" and 1 hash differently.
func cacheKey(source, query string, args []any) []byte {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n", query)
	for _, a := range args {
		fmt.Fprintf(h, "%#v\n", a)
	}
	return []byte(CacheKeyPrefix + source + "/" + hex.EncodeToString(h.Sum(nil)))
}

func encodeRows(rows []datatypes.Row) ([]byte, error) {
	out := make([]cachedRow, 0, len(rows))
	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for col := range row {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		cr := cachedRow{Columns: cols, Cells: make([]cachedCell, len(cols))}
		for i, col := range cols {
			cell, err := toCell(row[col])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			cr.Cells[i] = cell
		}
		out = append(out, cr)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(out); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRows decodes a cached result set.
func DecodeRows(data []byte) ([]datatypes.Row, error) {
	var in []cachedRow
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&in); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	rows := make([]datatypes.Row, 0, len(in))
	for _, cr := range in {
		if len(cr.Columns) != len(cr.Cells) {
			return nil, fmt.Errorf("corrupt cached row: %d columns, %d cells", len(cr.Columns), len(cr.Cells))
		}
		row := make(datatypes.Row, len(cr.Columns))
		for i, col := range cr.Columns {
			row[col] = fromCell(cr.Cells[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func toCell(v any) (cachedCell, error) {
	switch t := v.(type) {
	case nil:
		return cachedCell{Kind: cellNull}, nil
	case string:
		return cachedCell{Kind: cellString, S: t}, nil
	case []byte:
		return cachedCell{Kind: cellString, S: string(t)}, nil
	case float64:
		if math.IsNaN(t) {
			return cachedCell{Kind: cellNull}, nil
		}
		return cachedCell{Kind: cellFloat, F: t}, nil
	case float32:
		return cachedCell{Kind: cellFloat, F: float64(t)}, nil
	case int64:
		return cachedCell{Kind: cellInt, I: t}, nil
	case int:
		return cachedCell{Kind: cellInt, I: int64(t)}, nil
	case int32:
		return cachedCell{Kind: cellInt, I: int64(t)}, nil
	case bool:
		return cachedCell{Kind: cellBool, B: t}, nil
	case time.Time:
		return cachedCell{Kind: cellTime, T: t}, nil
	default:
		return cachedCell{}, fmt.Errorf("unsupported value type %T", v)
	}
}

func fromCell(c cachedCell) any {
	switch c.Kind {
	case cellString:
		return c.S
	case cellFloat:
		return c.F
	case cellInt:
		return c.I
	case cellBool:
		return c.B
	case cellTime:
		return c.T
	default:
		return nil
	}
}

// cloneRows copies rows handed out from a shared singleflight result so
// callers can mutate their maps independently.
func cloneRows(rows []datatypes.Row) []datatypes.Row {
	out := make([]datatypes.Row, len(rows))
	for i, r := range rows {
		c := make(datatypes.Row, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out
}
