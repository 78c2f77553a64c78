// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets retrieves credentials and keeps them sealed in memory.
//
// Values are read from a Backend and held in memguard enclaves, so a cached
// database password or token is encrypted at rest in the heap and only
// decrypted for the duration of a Get.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

// ErrSecretNotFound is returned when a secret is unset or empty.
var ErrSecretNotFound = errors.New("secret not found")

// Well-known secret names.
const (
	DatabasePassword = "LROT_DB_PASSWORD"
	InfluxToken      = "LROT_INFLUX_TOKEN"
	AdjustmentsSID   = "LROT_ADJUSTMENTS_USER_SID"
)

// Backend retrieves a secret by key.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Backend interface {
	// Lookup returns the raw secret bytes. The caller owns the slice and
	// wipes it. Returns ErrSecretNotFound when absent.
	Lookup(ctx context.Context, key string) ([]byte, error)
}

// EnvBackend reads secrets from environment variables.
type EnvBackend struct{}

// Lookup implements Backend.
func (EnvBackend) Lookup(ctx context.Context, key string) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("retrieving secret %q: %w", key, ctx.Err())
	}
	value := os.Getenv(key)
	if value == "" {
		return nil, fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
	}
	return []byte(value), nil
}

type sealed struct {
	enclave   *memguard.Enclave
	fetchedAt time.Time
}

// Manager caches secrets from a Backend in memguard enclaves.
//
// Description:
//
//	The first Get for a key reads the backend and seals the value. Later
//	calls open the enclave until the TTL expires, after which the backend is
//	read again so rotated secrets are picked up. A TTL of 0 disables caching.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]sealed
}

// NewManager creates a Manager. A nil backend reads the environment.
func NewManager(backend Backend, ttl time.Duration) *Manager {
	if backend == nil {
		backend = EnvBackend{}
	}
	return &Manager{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]sealed),
	}
}

// Get returns the secret for key.
//
// Outputs:
//
//	string - The plaintext secret. Callers should not log it.
//	error - Wraps ErrSecretNotFound when the secret is unset.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	var buf *memguard.LockedBuffer
	var err error
	if m.ttl > 0 {
		m.mu.RLock()
		entry, ok := m.cache[key]
		m.mu.RUnlock()
		if ok && m.now().Sub(entry.fetchedAt) < m.ttl {
			if buf, err = entry.enclave.Open(); err != nil {
				return "", fmt.Errorf("opening secret %q: %w", key, err)
			}
			defer buf.Destroy()
			return buf.String(), nil
		}
	}

	raw, err := m.backend.Lookup(ctx, key)
	if err != nil {
		return "", err
	}
	value := string(raw)

	if m.ttl > 0 {
		// NewEnclave wipes raw.
		enclave := memguard.NewEnclave(raw)
		m.mu.Lock()
		m.cache[key] = sealed{enclave: enclave, fetchedAt: m.now()}
		m.mu.Unlock()
	} else {
		memguard.WipeBytes(raw)
	}
	return value, nil
}

// Optional returns the secret for key, or "" when it is unset.
func (m *Manager) Optional(ctx context.Context, key string) (string, error) {
	v, err := m.Get(ctx, key)
	if errors.Is(err, ErrSecretNotFound) {
		return "", nil
	}
	return v, err
}

// Forget drops every cached secret.
func (m *Manager) Forget() {
	m.mu.Lock()
	m.cache = make(map[string]sealed)
	m.mu.Unlock()
}

// Purge drops the cache and destroys every memguard buffer in the process.
// Call it on shutdown.
func (m *Manager) Purge() {
	m.Forget()
	memguard.Purge()
}
