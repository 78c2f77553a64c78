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

import (
	"fmt"
	"strings"
	"text/template"
)

// queryFuncs are available inside every query template.
//
//	{{quote .Date}}        → '2025-04-03'
//	{{quoteList .Products}} → 'A', 'B'
//	{{upper .Snapshot}}    → EOD
var queryFuncs = template.FuncMap{
	"quote":     QuoteLiteral,
	"quoteList": quoteList,
	"upper":     strings.ToUpper,
}

// QueryTemplate is a parsed SQL template.
//
// Templates must route every caller-supplied value through quote or
// quoteList; the template engine does no escaping of its own.
//
// Thread Safety: Safe for concurrent use after construction.
type QueryTemplate struct {
	tmpl *template.Template
}

// ParseQueryTemplate parses a named query template. Missing keys are errors.
func ParseQueryTemplate(name, text string) (*QueryTemplate, error) {
	t, err := template.New(name).Funcs(queryFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse query template %s: %w", name, err)
	}
	return &QueryTemplate{tmpl: t}, nil
}

// Render executes the template with data.
func (q *QueryTemplate) Render(data any) (string, error) {
	var sb strings.Builder
	if err := q.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render query template %s: %w", q.tmpl.Name(), err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// QuoteLiteral renders s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = QuoteLiteral(v)
	}
	return strings.Join(quoted, ", ")
}
