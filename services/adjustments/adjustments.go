// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package adjustments re-triggers stuck DMAT adjustments.
//
// A sync is two calls: fetch an access token from the identity service,
// then POST the DMAT ids to the adjustments callback with the token as the
// Cookie header.
package adjustments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/lrot/services/datatypes"
	"github.com/AleutianAI/lrot/services/llm"
	"github.com/AleutianAI/lrot/services/secrets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Supported adjustment types.
const (
	TypeMDU  = "MDU"
	TypeMSDU = "MSDU"
)

const maxResponseBody = 1 << 20

// SecretSource supplies the service user id.
type SecretSource interface {
	Get(ctx context.Context, key string) (string, error)
}

// Config locates the identity and adjustments services.
type Config struct {
	TokenURL    string        `yaml:"token_url" validate:"required,url"`
	CallbackURL string        `yaml:"callback_url" validate:"required,url"`
	AppID       string        `yaml:"app_id"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Result is the outcome of a successful sync.
type Result struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	DMATIDs        []string `json:"dmat_ids"`
	AdjustmentType string   `json:"adjustment_type"`
}

// Client syncs adjustments.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	cfg     Config
	secrets SecretSource
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client. A nil httpClient gets one with cfg.Timeout
// (default 30s).
func NewClient(cfg Config, secretSource SecretSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.AppID == "" {
		cfg.AppID = "adj"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, secrets: secretSource, http: httpClient, logger: logger}
}

// ParseDMATIDs splits a comma-separated id list. Every id must be numeric.
func ParseDMATIDs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, datatypes.Malformed("No valid DMAT IDs provided.")
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		id := strings.TrimSpace(p)
		if !isDigits(id) {
			return nil, datatypes.Malformed("Invalid DMAT ID: %s. All DMAT IDs must be numeric.", id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Sync re-triggers adjustments for the given DMAT ids.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	adjustmentType - MDU or MSDU.
//	dmatIDs - Comma-separated numeric ids.
//
// Outputs:
//
//	*Result - On success.
//	error - ErrMalformedInput for bad arguments, ErrUpstream when either
//	        service call fails.
func (c *Client) Sync(ctx context.Context, adjustmentType, dmatIDs string) (*Result, error) {
	ctx, span := otel.Tracer("lrot.adjustments").Start(ctx, "adjustments.Client.Sync",
		trace.WithAttributes(attribute.String("adjustment_type", adjustmentType)),
	)
	defer span.End()

	res, err := c.sync(ctx, adjustmentType, dmatIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, datatypes.ErrorCode(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("dmat_ids", len(res.DMATIDs)))
	return res, nil
}

func (c *Client) sync(ctx context.Context, adjustmentType, dmatIDs string) (*Result, error) {
	if adjustmentType != TypeMDU && adjustmentType != TypeMSDU {
		return nil, datatypes.Malformed("Invalid adjustment type. Must be either 'MDU' or 'MSDU'.")
	}
	ids, err := ParseDMATIDs(dmatIDs)
	if err != nil {
		return nil, err
	}
	c.logger.Info("syncing adjustments",
		slog.String("adjustment_type", adjustmentType),
		slog.Int("dmat_ids", len(ids)),
	)

	token, err := c.fetchToken(ctx)
	if err != nil {
		c.logger.Error("access token fetch failed", slog.String("error", llm.SafeLogString(err.Error())))
		return nil, datatypes.Upstream("Failed to retrieve access token", err)
	}

	if err := c.trigger(ctx, token, adjustmentType, ids); err != nil {
		c.logger.Error("adjustment sync failed", slog.String("error", llm.SafeLogString(err.Error())))
		return nil, datatypes.Upstream("Failed to trigger adjustment sync", err)
	}

	c.logger.Info("adjustment sync triggered", slog.String("adjustment_type", adjustmentType))
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Sync successfully performed for %s adjustments on DMAT IDs: %s",
			adjustmentType, strings.Join(ids, ", ")),
		DMATIDs:        ids,
		AdjustmentType: adjustmentType,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	if c.secrets == nil {
		return "", errors.New("no secret source configured")
	}
	sid, err := c.secrets.Get(ctx, secrets.AdjustmentsSID)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(c.cfg.TokenURL)
	if err != nil {
		return "", fmt.Errorf("token url: %w", err)
	}
	q := u.Query()
	q.Set("userSid", sid)
	q.Set("appId", c.cfg.AppID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("no access_token found in response")
	}
	return tr.AccessToken, nil
}

type callbackRequest struct {
	DMATIDList  []string `json:"dmatIdList"`
	LRIIDList   []string `json:"lriIdList"`
	COBDateList []string `json:"cobDateList"`
	ReportType  string   `json:"reportType"`
	ActionType  string   `json:"actionType"`
}

func (c *Client) trigger(ctx context.Context, token, adjustmentType string, ids []string) error {
	payload, err := json.Marshal(callbackRequest{
		DMATIDList:  ids,
		LRIIDList:   []string{},
		COBDateList: []string{},
		ReportType:  adjustmentType,
		ActionType:  "UPDATE",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", token)

	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
