// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/lrot/services/llm"
)

// maxResponseBytes caps response bodies read from the server.
const maxResponseBytes = 8 << 20

// envelope is the wire form of a function call result.
type envelope struct {
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result"`
}

// callError is a failed envelope.
type callError struct {
	Function string `json:"-"`
	Message  string `json:"error"`
	Code     string `json:"code"`
}

func (e *callError) Error() string {
	return fmt.Sprintf("%s failed [%s]: %s", e.Function, e.Code, e.Message)
}

// apiClient talks to lrot-server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// call dispatches name with args and returns the raw result. A failed
// envelope is returned as *callError alongside the raw result.
func (c *apiClient) call(ctx context.Context, name string, args any) (envelope, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return envelope{}, fmt.Errorf("encoding arguments: %w", err)
	}
	return c.callRaw(ctx, name, body)
}

func (c *apiClient) callRaw(ctx context.Context, name string, body []byte) (envelope, error) {
	endpoint := c.baseURL + "/v1/functions/" + url.PathEscape(name)
	data, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decoding response: %w", err)
	}

	var probe callError
	if json.Unmarshal(env.Result, &probe) == nil && probe.Code != "" && probe.Message != "" {
		probe.Function = name
		return env, &probe
	}
	return env, nil
}

// definitions lists the server's functions.
func (c *apiClient) definitions(ctx context.Context) ([]llm.ToolDef, error) {
	data, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/functions", nil)
	if err != nil {
		return nil, err
	}
	var defs []llm.ToolDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("decoding definitions: %w", err)
	}
	return defs, nil
}

func (c *apiClient) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lrot-server unavailable at %s: %w", c.baseURL, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("rate limited, retry after %ss", resp.Header.Get("Retry-After"))
		}
		return nil, fmt.Errorf("lrot-server error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
