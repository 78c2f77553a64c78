// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package adjustments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/lrot/services/datatypes"
	"github.com/AleutianAI/lrot/services/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSecrets map[string]string

func (s staticSecrets) Get(_ context.Context, key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", fmt.Errorf("secret %q: %w", key, secrets.ErrSecretNotFound)
	}
	return v, nil
}

type fakeServices struct {
	server       *httptest.Server
	tokenStatus  int
	tokenBody    string
	syncStatus   int
	gotSID       string
	gotAppID     string
	gotCookie    string
	gotPayload   callbackRequest
	syncRequests int
}

func newFakeServices(t *testing.T) *fakeServices {
	t.Helper()
	f := &fakeServices{
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"tok-123"}`,
		syncStatus:  http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ida/getTokens", func(w http.ResponseWriter, r *http.Request) {
		f.gotSID = r.URL.Query().Get("userSid")
		f.gotAppID = r.URL.Query().Get("appId")
		w.WriteHeader(f.tokenStatus)
		fmt.Fprint(w, f.tokenBody)
	})
	mux.HandleFunc("/api/v2/adjustments/dmatcallback", func(w http.ResponseWriter, r *http.Request) {
		f.syncRequests++
		f.gotCookie = r.Header.Get("Cookie")
		if err := json.NewDecoder(r.Body).Decode(&f.gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(f.syncStatus)
		fmt.Fprint(w, `{}`)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeServices) client() *Client {
	cfg := Config{
		TokenURL:    f.server.URL + "/ida/getTokens",
		CallbackURL: f.server.URL + "/api/v2/adjustments/dmatcallback",
	}
	return NewClient(cfg, staticSecrets{secrets.AdjustmentsSID: "U123"}, f.server.Client(), nil)
}

func TestSync_Success(t *testing.T) {
	f := newFakeServices(t)

	res, err := f.client().Sync(context.Background(), "MDU", "101, 202")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"101", "202"}, res.DMATIDs)
	assert.Equal(t, "Sync successfully performed for MDU adjustments on DMAT IDs: 101, 202", res.Message)

	assert.Equal(t, "U123", f.gotSID)
	assert.Equal(t, "adj", f.gotAppID)
	assert.Equal(t, "tok-123", f.gotCookie)
	assert.Equal(t, callbackRequest{
		DMATIDList:  []string{"101", "202"},
		LRIIDList:   []string{},
		COBDateList: []string{},
		ReportType:  "MDU",
		ActionType:  "UPDATE",
	}, f.gotPayload)
}

func TestSync_MalformedArguments(t *testing.T) {
	tests := []struct {
		name     string
		typ, ids string
		wantMsg  string
	}{
		{"bad type", "XYZ", "1", "Invalid adjustment type. Must be either 'MDU' or 'MSDU'."},
		{"lowercase type", "mdu", "1", "Invalid adjustment type"},
		{"non numeric id", "MSDU", "12,abc", "Invalid DMAT ID: abc. All DMAT IDs must be numeric."},
		{"empty entry", "MSDU", "12,,13", "Invalid DMAT ID: ."},
		{"no ids", "MDU", "  ", "No valid DMAT IDs provided."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeServices(t)
			_, err := f.client().Sync(context.Background(), tt.typ, tt.ids)
			require.Error(t, err)
			assert.True(t, errors.Is(err, datatypes.ErrMalformedInput))
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, 0, f.syncRequests)
		})
	}
}

func TestSync_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeServices)
		wantMsg string
	}{
		{"token status", func(f *fakeServices) { f.tokenStatus = http.StatusUnauthorized }, "Failed to retrieve access token"},
		{"token missing", func(f *fakeServices) { f.tokenBody = `{"expires_in":60}` }, "no access_token"},
		{"token not json", func(f *fakeServices) { f.tokenBody = `<html>` }, "Failed to retrieve access token"},
		{"callback status", func(f *fakeServices) { f.syncStatus = http.StatusBadGateway }, "Failed to trigger adjustment sync"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeServices(t)
			tt.setup(f)
			_, err := f.client().Sync(context.Background(), "MDU", "1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, datatypes.ErrUpstream))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestSync_MissingUserSID(t *testing.T) {
	f := newFakeServices(t)
	c := NewClient(Config{TokenURL: f.server.URL + "/ida/getTokens", CallbackURL: f.server.URL},
		staticSecrets{}, f.server.Client(), nil)

	_, err := c.Sync(context.Background(), "MDU", "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, datatypes.ErrUpstream))
	assert.True(t, errors.Is(err, secrets.ErrSecretNotFound))
}
