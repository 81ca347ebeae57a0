// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package state provides a secure, in-memory cache for transient secrets
// that need to be shared between parts of the application (e.g., a seed key
// passphrase collected by a CLI flag and consumed by the SFTP transport).
package state

import "sync"

// PassphraseCache is a concurrency-safe, in-memory "mailbox" for temporarily
// storing a key passphrase. It uses a byte slice instead of a string so the
// sensitive data can be explicitly zeroed out after use.
var PassphraseCache = &passphraseMailbox{}

type passphraseMailbox struct {
	value []byte
	mu    sync.RWMutex
}

// Set stores a copy of the passphrase, overwriting any existing value.
func (p *passphraseMailbox) Set(pass []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pass == nil {
		p.value = nil
		return
	}
	// Store a copy so the caller's original slice isn't held by the cache.
	p.value = make([]byte, len(pass))
	copy(p.value, pass)
}

// Get retrieves a copy of the passphrase. The caller is responsible for
// zeroing out the returned slice after use.
func (p *passphraseMailbox) Get() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.value == nil {
		return nil
	}
	out := make([]byte, len(p.value))
	copy(out, p.value)
	return out
}

// Clear securely wipes the passphrase from the cache memory.
func (p *passphraseMailbox) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.value {
		p.value[i] = 0
	}
	p.value = nil
}
