// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog describes the sub-tasks ("tables") of a batch process.
//
// A Catalog is a YAML document (JSON parses too) naming every expected
// table with its BPF identifier and display order, plus the query
// templates used to read run status and run history.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/lrot/services/datasource"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// UnknownOrder is the ordering index given to identifiers absent from the
// catalog, so they sort after every known table.
const UnknownOrder = 999

// MaxDocumentSize caps catalog documents read from disk.
const MaxDocumentSize = 1 << 20

// =============================================================================
// Catalog Types
// =============================================================================

// TableSpec is one expected sub-task.
type TableSpec struct {
	// Order is the display position. Lower sorts first.
	Order int `yaml:"id" json:"id"`

	// Identifier is the BPF id. Numeric ids are kept as strings.
	Identifier string `yaml:"bpf_id" json:"bpf_id"`

	// Name is the display name.
	Name string `yaml:"name" json:"name"`

	// LongRunning marks tables that get the larger overload penalty.
	LongRunning bool `yaml:"long_running" json:"long_running,omitempty"`
}

// StringList accepts either a single scalar or a sequence.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*s = StringList{n.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := n.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", n.Line)
	}
}

// Marker identifies a run that bounds the status time window.
type Marker struct {
	Identifier string     `yaml:"bpf_id"`
	ProcessID  string     `yaml:"process_id"`
	RunTypes   StringList `yaml:"run_type"`
}

// ProcessMarkers bound the window in which a COB date's table runs count.
type ProcessMarkers struct {
	PrelimEnd    Marker `yaml:"prelim_end"`
	SLSLockStart Marker `yaml:"sls_lock_start"`
}

// QueryTemplates holds the raw template bodies.
type QueryTemplates struct {
	Status  string `yaml:"status"`
	History string `yaml:"history"`
}

// QueryParams is the data passed to the query templates.
type QueryParams struct {
	// COBDate in DD-Mon-YYYY, the warehouse's date literal format.
	COBDate string

	// Identifiers restricts the query to these BPF ids.
	Identifiers []string

	// HistoryStart is the first COB date of the history window, DD-Mon-YYYY.
	HistoryStart string

	Markers ProcessMarkers
}

// Catalog is a parsed, validated catalog document.
//
// Thread Safety: Immutable after Load; safe for concurrent use.
type Catalog struct {
	ProcessName    string         `yaml:"process_name"`
	ProcessAlias   string         `yaml:"process_alias"`
	Tables         []TableSpec    `yaml:"tables"`
	ProcessMarkers ProcessMarkers `yaml:"process_markers"`
	QueryTemplates QueryTemplates `yaml:"query_templates"`

	byIdentifier map[string]int
	status       *datasource.QueryTemplate
	history      *datasource.QueryTemplate
}

// =============================================================================
// Loading
// =============================================================================

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the embedded FR2052a catalog, parsed once.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Load(context.Background(), defaultCatalogYAML)
	})
	return defaultCatalog, defaultErr
}

// Load parses and validates a catalog document.
//
// Description:
//
//	Accepts YAML or JSON. Identifiers are trimmed, query templates are
//	parsed up front so a broken template fails at load rather than at
//	the first status request.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw document bytes.
//
// Outputs:
//
//	*Catalog - The validated catalog.
//	error - Non-nil if parsing or validation fails.
func Load(ctx context.Context, data []byte) (*Catalog, error) {
	_, span := otel.Tracer("lrot.catalog").Start(ctx, "catalog.Load")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("catalog: empty document")
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("catalog: document exceeds maximum size (%d > %d)", len(data), MaxDocumentSize)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: parsing document: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, fmt.Errorf("catalog: validation: %w", err)
	}

	span.SetAttributes(
		attribute.String("process_alias", c.ProcessAlias),
		attribute.Int("tables", len(c.Tables)),
	)
	slog.Debug("catalog loaded",
		slog.String("process_alias", c.ProcessAlias),
		slog.Int("tables", len(c.Tables)),
	)
	return &c, nil
}

func (c *Catalog) index() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("tables must not be empty")
	}
	c.byIdentifier = make(map[string]int, len(c.Tables))
	for i := range c.Tables {
		t := &c.Tables[i]
		t.Identifier = strings.TrimSpace(t.Identifier)
		t.Name = strings.TrimSpace(t.Name)
		if t.Identifier == "" {
			return fmt.Errorf("tables[%d]: bpf_id must not be empty", i)
		}
		if t.Name == "" {
			return fmt.Errorf("tables[%d] (%s): name must not be empty", i, t.Identifier)
		}
		if _, dup := c.byIdentifier[t.Identifier]; dup {
			return fmt.Errorf("tables[%d]: duplicate bpf_id %s", i, t.Identifier)
		}
		c.byIdentifier[t.Identifier] = i
	}

	var err error
	if c.QueryTemplates.Status == "" {
		return fmt.Errorf("query_templates.status must not be empty")
	}
	if c.status, err = datasource.ParseQueryTemplate("status", c.QueryTemplates.Status); err != nil {
		return err
	}
	if c.QueryTemplates.History != "" {
		if c.history, err = datasource.ParseQueryTemplate("history", c.QueryTemplates.History); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Lookup
// =============================================================================

// Lookup resolves a user-supplied table filter.
//
// A case-insensitive substring of the display name wins over an exact
// identifier match, and the first catalog entry wins among name matches.
func (c *Catalog) Lookup(filter string) (TableSpec, bool) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return TableSpec{}, false
	}
	needle := strings.ToLower(filter)
	for _, t := range c.Tables {
		if strings.Contains(strings.ToLower(t.Name), needle) {
			return t, true
		}
	}
	return c.ByIdentifier(filter)
}

// ByIdentifier returns the table with the exact BPF id.
func (c *Catalog) ByIdentifier(id string) (TableSpec, bool) {
	i, ok := c.byIdentifier[strings.TrimSpace(id)]
	if !ok {
		return TableSpec{}, false
	}
	return c.Tables[i], true
}

// Order returns the ordering index for id, UnknownOrder when absent.
func (c *Catalog) Order(id string) int {
	if t, ok := c.ByIdentifier(id); ok {
		return t.Order
	}
	return UnknownOrder
}

// Identifiers returns every BPF id in document order.
func (c *Catalog) Identifiers() []string {
	ids := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		ids[i] = t.Identifier
	}
	return ids
}

// StatusQuery renders the run-status query.
func (c *Catalog) StatusQuery(p QueryParams) (string, error) {
	p.Markers = c.ProcessMarkers
	return c.status.Render(p)
}

// HasHistoryQuery reports whether the catalog defines a history query.
func (c *Catalog) HasHistoryQuery() bool {
	return c.history != nil
}

// HistoryQuery renders the run-history query.
func (c *Catalog) HistoryQuery(p QueryParams) (string, error) {
	if c.history == nil {
		return "", fmt.Errorf("catalog %s defines no history query", c.ProcessAlias)
	}
	p.Markers = c.ProcessMarkers
	return c.history.Render(p)
}
