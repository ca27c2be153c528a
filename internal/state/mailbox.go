// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package state

import "sync"

// Mailbox holds one secret (a key passphrase) between the prompt that reads
// it and the component that consumes it. Bytes are copied in and out so the
// stored value can be wiped with Clear.
type Mailbox struct {
	mu    sync.RWMutex
	value []byte
}

// Set stores a copy of secret, replacing any previous value.
func (m *Mailbox) Set(secret []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wipe()
	if secret != nil {
		m.value = append([]byte(nil), secret...)
	}
}

// Get returns a copy of the stored secret, or nil. The caller should zero it
// after use.
func (m *Mailbox) Get() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.value == nil {
		return nil
	}
	return append([]byte(nil), m.value...)
}

// Clear zeroes and drops the stored secret.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wipe()
}

func (m *Mailbox) wipe() {
	clear(m.value)
	m.value = nil
}
