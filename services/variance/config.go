// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package variance

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"github.com/AleutianAI/lrot/services/datasource"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTablesYAML []byte

// DefaultThresholdPct is the materiality threshold in percent.
const DefaultThresholdPct = 10.0

// Table names used by Investigate.
const (
	TableReporting  = "reporting"
	TableBaseData   = "base_data"
	TableSLSDetails = "sls_details"
)

// TableDef describes one comparable table.
type TableDef struct {
	Name             string   `yaml:"name" validate:"required"`
	Description      string   `yaml:"description"`
	Query            string   `yaml:"query" validate:"required"`
	LineColumn       string   `yaml:"line_column" validate:"required"`
	GroupColumn      string   `yaml:"group_column" validate:"required"`
	DateColumn       string   `yaml:"date_column" validate:"required"`
	ContextKeyColumn string   `yaml:"context_key_column"`
	Measures         []string `yaml:"measures" validate:"required,min=1,dive,required"`
	PrimaryMeasure   string   `yaml:"primary_measure"`
}

// Config is the set of table definitions plus the threshold.
type Config struct {
	ThresholdPct float64    `yaml:"threshold_pct" validate:"gte=0"`
	Tables       []TableDef `yaml:"tables" validate:"required,min=1,dive"`
}

// DefaultConfig returns the embedded table definitions.
func DefaultConfig() (*Config, error) {
	return ParseConfig(defaultTablesYAML)
}

// LoadConfigFile reads table definitions from path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("variance config: read %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses, defaults and validates table definitions.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("variance config: parsing YAML: %w", err)
	}
	if cfg.ThresholdPct == 0 {
		cfg.ThresholdPct = DefaultThresholdPct
	}
	for i := range cfg.Tables {
		t := &cfg.Tables[i]
		if t.PrimaryMeasure == "" && len(t.Measures) > 0 {
			t.PrimaryMeasure = t.Measures[0]
		}
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("variance config: validation: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Tables))
	for _, t := range cfg.Tables {
		if seen[t.Name] {
			return nil, fmt.Errorf("variance config: duplicate table %s", t.Name)
		}
		seen[t.Name] = true
		if !slices.Contains(t.Measures, t.PrimaryMeasure) {
			return nil, fmt.Errorf("variance config: table %s: primary_measure %s is not a measure", t.Name, t.PrimaryMeasure)
		}
		if _, err := datasource.ParseQueryTemplate(t.Name, t.Query); err != nil {
			return nil, fmt.Errorf("variance config: %w", err)
		}
	}
	return &cfg, nil
}

// Table returns the definition with the given name.
func (c *Config) Table(name string) (TableDef, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableDef{}, false
}
