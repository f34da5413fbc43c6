// Copyright (c) 2025 Bob Vawter (bob@vawter.org)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// SPDX-License-Identifier: MIT

// Package registry holds the in-memory mapping from IDE key to the IDE
// endpoint registered for it.
package registry

import (
	"net/netip"
	"sync"
)

// Registration is the endpoint an IDE registered for a given key.
type Registration struct {
	Key      string
	Endpoint netip.AddrPort

	// Multi is the opaque -m flag from proxyinit. Semantics reserved; we
	// store it but never interpret it.
	Multi string
}

// Registry maps IDE key to Registration. It is safe for concurrent use by
// the IDE command listener and by Sessions.
type Registry struct {
	mu struct {
		sync.RWMutex
		entries map[string]Registration
	}
}

// New constructs an empty Registry.
func New() *Registry {
	reg := &Registry{}
	reg.mu.entries = make(map[string]Registration)
	return reg
}

// Add inserts a Registration if key is not already present. It reports
// whether the insert happened.
func (r *Registry) Add(key string, endpoint netip.AddrPort, multi string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mu.entries[key]; exists {
		return false
	}
	r.mu.entries[key] = Registration{Key: key, Endpoint: endpoint, Multi: multi}
	return true
}

// Remove deletes key if present and reports whether it was present.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mu.entries[key]; !exists {
		return false
	}
	delete(r.mu.entries, key)
	return true
}

// Lookup returns the Registration for key, if any.
func (r *Registry) Lookup(key string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.mu.entries[key]
	return reg, ok
}

// Len reports the number of registered keys. Exposed for tests only;
// iteration itself is not exposed.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mu.entries)
}
