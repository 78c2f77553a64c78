// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingBackend struct {
	values map[string]string
	calls  int
}

func (b *countingBackend) Lookup(_ context.Context, key string) ([]byte, error) {
	b.calls++
	v, ok := b.values[key]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return []byte(v), nil
}

func TestEnvBackend_Found(t *testing.T) {
	t.Setenv("LROT_TEST_SECRET", "s3cret")

	m := NewManager(nil, 0)
	got, err := m.Get(context.Background(), "LROT_TEST_SECRET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "s3cret" {
		t.Errorf("got %q, want %q", got, "s3cret")
	}
}

func TestEnvBackend_NotFound(t *testing.T) {
	t.Setenv("LROT_TEST_MISSING", "")

	_, err := NewManager(nil, 0).Get(context.Background(), "LROT_TEST_MISSING")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("error should wrap ErrSecretNotFound, got: %v", err)
	}
}

func TestEnvBackend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := (EnvBackend{}).Lookup(ctx, "ANY"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestManager_CachesUntilTTL(t *testing.T) {
	backend := &countingBackend{values: map[string]string{"k": "v1"}}
	m := NewManager(backend, time.Hour)
	now := time.Date(2025, 4, 3, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := m.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != "v1" {
			t.Errorf("got %q, want v1", got)
		}
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls)
	}

	backend.values["k"] = "v2"
	now = now.Add(2 * time.Hour)
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "v2" {
		t.Errorf("after TTL got %q, want v2", got)
	}
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2", backend.calls)
	}

	m.Forget()
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("Get after Forget: %v", err)
	}
	if backend.calls != 3 {
		t.Errorf("backend calls = %d, want 3", backend.calls)
	}
}

func TestManager_Optional(t *testing.T) {
	m := NewManager(&countingBackend{values: map[string]string{}}, 0)
	got, err := m.Optional(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Optional returned error: %v", err)
	}
	if got != "" {
		t.Errorf("Optional = %q, want empty", got)
	}
}
