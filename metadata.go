// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"fmt"
	"strings"
	"sync"

	"google.golang.org/grpc/metadata"
)

// forbiddenKeys, together with the "grpc-" and ":" prefixes checked in
// isForbiddenKey, lists header keys the caller may never set directly;
// grpc-go (and the wire protocol underneath it) owns them.
var forbiddenKeys = map[string]bool{
	"content-type": true,
	"user-agent":   true,
	"te":           true,
}

func isForbiddenKey(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "grpc-") || strings.HasPrefix(key, ":") {
		return true
	}
	return forbiddenKeys[key]
}

func isBinaryKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), "-bin")
}

// Metadata is an ordered mapping from a lowercase ASCII key to a non-empty
// sequence of values. Keys ending in "-bin" carry opaque byte values
// (base64-free; the transport handles wire encoding); all other keys carry
// UTF-8 strings. Iteration order is insertion order.
//
// A Metadata handed to the transport (as a request's header, or a
// response's header/trailer) is frozen: further mutation is rejected.
type Metadata struct {
	mu     sync.Mutex
	order  []string
	values map[string][]string
	frozen bool
}

// New returns an empty, mutable Metadata.
func New() *Metadata {
	return &Metadata{values: make(map[string][]string)}
}

// NewFromPairs builds a Metadata from alternating key/value strings, in the
// style of google.golang.org/grpc/metadata.New. Forbidden keys are silently
// dropped, same as Set.
func NewFromPairs(kv ...string) *Metadata {
	if len(kv)%2 != 0 {
		panic("grpcframe: NewFromPairs received an odd number of key/value arguments")
	}
	m := New()
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i], kv[i+1])
	}
	return m
}

func (m *Metadata) normalizeKey(key string) string {
	return strings.ToLower(key)
}

// Set replaces all values for key.
func (m *Metadata) Set(key string, values ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, append([]string(nil), values...))
}

// SetBinary replaces all values for a "-bin" key with raw byte payloads.
func (m *Metadata) SetBinary(key string, values ...[]byte) {
	if !isBinaryKey(key) {
		panic(fmt.Sprintf("grpcframe: SetBinary requires a key ending in -bin, got %q", key))
	}
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = string(v)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, strs)
}

func (m *Metadata) setLocked(key string, values []string) {
	if m.frozen {
		return
	}
	if isForbiddenKey(key) {
		return
	}
	key = m.normalizeKey(key)
	if len(values) == 0 {
		return
	}
	if _, exists := m.values[key]; !exists {
		m.order = append(m.order, key)
	}
	m.values[key] = values
}

// Append adds a single value to key's sequence, preserving any existing
// values.
func (m *Metadata) Append(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen || isForbiddenKey(key) {
		return
	}
	key = m.normalizeKey(key)
	if _, exists := m.values[key]; !exists {
		m.order = append(m.order, key)
	}
	m.values[key] = append(m.values[key], value)
}

// Get returns the first value for key, if any.
func (m *Metadata) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs, ok := m.values[m.normalizeKey(key)]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// GetAll returns every value for key, in append order.
func (m *Metadata) GetAll(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := m.values[m.normalizeKey(key)]
	return append([]string(nil), vs...)
}

// Has reports whether key has at least one value.
func (m *Metadata) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[m.normalizeKey(key)]
	return ok
}

// Delete removes key entirely.
func (m *Metadata) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return
	}
	key = m.normalizeKey(key)
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// ForEach calls fn once per key, in insertion order, with that key's full
// value sequence.
func (m *Metadata) ForEach(fn func(key string, values []string)) {
	m.mu.Lock()
	keys := append([]string(nil), m.order...)
	snapshot := make(map[string][]string, len(keys))
	for _, k := range keys {
		snapshot[k] = append([]string(nil), m.values[k]...)
	}
	m.mu.Unlock()
	for _, k := range keys {
		fn(k, snapshot[k])
	}
}

// Freeze makes m read-only from the caller's perspective; subsequent
// mutations are silently ignored. Freeze is called by the server/client
// drivers at the moment a Metadata is handed to the transport.
func (m *Metadata) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
}

// Frozen reports whether Freeze has been called.
func (m *Metadata) Frozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen
}

// Clone returns a deep, unfrozen copy of m.
func (m *Metadata) Clone() *Metadata {
	out := New()
	m.ForEach(func(key string, values []string) {
		out.setLocked(key, append([]string(nil), values...))
	})
	return out
}

// toMD projects m onto grpc's wire-level metadata.MD, emitting multiple
// frame entries for multi-value text keys rather than comma-joining them
// (joining, if any, is the transport's concern, not this layer's).
func (m *Metadata) toMD() metadata.MD {
	md := metadata.MD{}
	m.ForEach(func(key string, values []string) {
		md[key] = append(md[key], values...)
	})
	return md
}

// fromMD builds a frozen Metadata from incoming grpc wire metadata. Keys
// are inserted in Go's map iteration order over metadata.MD, which is
// unspecified and may differ from call to call, so the resulting key order
// carries no meaning; each key's values keep their wire order.
func fromMD(md metadata.MD) *Metadata {
	m := New()
	for k, vs := range md {
		m.setLocked(k, append([]string(nil), vs...))
	}
	m.Freeze()
	return m
}
