// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Provider hands out the current catalog. Engines call it once per request.
type Provider interface {
	Catalog(ctx context.Context) (*Catalog, error)
}

// Static is a Provider over a fixed catalog.
type Static struct {
	c *Catalog
}

// NewStatic wraps c.
func NewStatic(c *Catalog) *Static {
	return &Static{c: c}
}

// Catalog implements Provider.
func (s *Static) Catalog(_ context.Context) (*Catalog, error) {
	if s.c == nil {
		return nil, fmt.Errorf("catalog: not loaded")
	}
	return s.c, nil
}

// FileLoader serves a catalog read from disk and reloads it on change.
//
// Description:
//
//	The file is parsed at construction. Watch follows fsnotify events on
//	the containing directory, so editors that replace the file by rename
//	are picked up. A reload that fails validation keeps the previous
//	catalog and logs the error.
//
// Thread Safety: Safe for concurrent use.
type FileLoader struct {
	path    string
	current atomic.Pointer[Catalog]
	logger  *slog.Logger
}

// NewFileLoader reads and validates path.
func NewFileLoader(ctx context.Context, path string, logger *slog.Logger) (*FileLoader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FileLoader{path: filepath.Clean(path), logger: logger}
	if err := f.Reload(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Catalog implements Provider.
func (f *FileLoader) Catalog(_ context.Context) (*Catalog, error) {
	c := f.current.Load()
	if c == nil {
		return nil, fmt.Errorf("catalog: %s not loaded", f.path)
	}
	return c, nil
}

// Reload re-reads the file. On failure the previous catalog stays current.
func (f *FileLoader) Reload(ctx context.Context) error {
	info, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("catalog: stat %s: %w", f.path, err)
	}
	if info.Size() > MaxDocumentSize {
		return fmt.Errorf("catalog: %s exceeds maximum size (%d > %d)", f.path, info.Size(), MaxDocumentSize)
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("catalog: read %s: %w", f.path, err)
	}
	c, err := Load(ctx, data)
	if err != nil {
		return fmt.Errorf("catalog: %s: %w", f.path, err)
	}
	f.current.Store(c)
	return nil
}

// Watch reloads the catalog whenever the file changes. It blocks until ctx
// is done or the watcher fails.
func (f *FileLoader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("catalog: watch %s: %w", filepath.Dir(f.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := f.Reload(ctx); err != nil {
				f.logger.Warn("catalog reload failed, keeping previous",
					slog.String("path", f.path),
					slog.String("error", err.Error()),
				)
				continue
			}
			f.logger.Info("catalog reloaded", slog.String("path", f.path))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("catalog watcher error", slog.String("error", err.Error()))
		}
	}
}
