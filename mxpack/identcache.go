// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package mxpack

import (
	"bytes"
	"sync"
	unicodeutf8 "unicode/utf8"

	"github.com/dchest/siphash"
)

// defaultIdentifierCacheBudget is used when NewIdentifierCodec is
// given a non-positive byte budget.
const defaultIdentifierCacheBudget = 1 << 20

// IdentifierCodec is the identifier-string codec variant: field names,
// map keys, and other short repeating strings tend to recur heavily
// within a single stream, so both directions are memoized up to a
// total-cached-bytes budget instead of reallocating or re-encoding on
// every occurrence. Decoded strings are keyed by a SipHash of their
// raw bytes; SipHash keeps cache-key computation resistant to
// adversarial inputs that would otherwise pile every identifier into
// the same bucket. Encoded strings are keyed directly by the Go
// string, mapping to the already-rendered wire bytes.
//
// On overflow the whole cache is cleared rather than evicting
// individual entries, matching the "bounded by total cached-bytes; on
// overflow, clear" policy the identifier variant documents.
type IdentifierCodec struct {
	k0, k1 uint64

	mu        sync.Mutex
	decoded   map[uint64][]identEntry
	encoded   map[string][]byte
	bytesUsed int
	maxBytes  int
}

type identEntry struct {
	raw []byte
	str string
}

// NewIdentifierCodec builds an identifier codec bounded to maxBytes of
// combined encode- and decode-cache contents, keyed with the given
// SipHash key pair (pass two random uint64s; a fixed key is fine
// within a single process but should not be reused across processes
// sharing untrusted input).
func NewIdentifierCodec(maxBytes int, k0, k1 uint64) *IdentifierCodec {
	if maxBytes <= 0 {
		maxBytes = defaultIdentifierCacheBudget
	}
	return &IdentifierCodec{
		k0:       k0,
		k1:       k1,
		decoded:  make(map[uint64][]identEntry),
		encoded:  make(map[string][]byte),
		maxBytes: maxBytes,
	}
}

// clearLocked drops every cached entry in both directions. Called
// with mu held.
func (c *IdentifierCodec) clearLocked() {
	c.decoded = make(map[uint64][]identEntry)
	c.encoded = make(map[string][]byte)
	c.bytesUsed = 0
}

// chargeLocked clears the cache first if accounting for cost would
// overflow the configured budget, then charges it. Called with mu
// held.
func (c *IdentifierCodec) chargeLocked(cost int) {
	if c.bytesUsed+cost > c.maxBytes {
		c.clearLocked()
	}
	c.bytesUsed += cost
}

// Encode writes s exactly as the default string codec would, caching
// the rendered wire bytes so a repeated identifier skips re-encoding.
func (c *IdentifierCodec) Encode(sink *bufferedSink, alloc Allocator, s string) error {
	const op = "WriteIdentifier"

	c.mu.Lock()
	cached, ok := c.encoded[s]
	c.mu.Unlock()
	if ok {
		return sink.writePayload(op, cached)
	}

	var result InMemoryResult
	mem, err := NewInMemoryGrowableSink(alloc, 32, &result)
	if err != nil {
		return err
	}
	memSink, err := newBufferedSink(mem, alloc, 32)
	if err != nil {
		return err
	}
	if err := (defaultStringEncoder{}).Encode(memSink, alloc, s); err != nil {
		return err
	}
	if err := memSink.close(); err != nil {
		return err
	}
	rendered := append([]byte(nil), result.Data...)
	if result.Leased != nil {
		result.Leased.Release()
	}

	c.mu.Lock()
	c.chargeLocked(len(s) + len(rendered))
	c.encoded[s] = rendered
	c.mu.Unlock()

	return sink.writePayload(op, rendered)
}

func (c *IdentifierCodec) lookup(h uint64, raw []byte) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.decoded[h] {
		if bytes.Equal(e.raw, raw) {
			return e.str, true
		}
	}
	return "", false
}

func (c *IdentifierCodec) store(h uint64, raw []byte, s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chargeLocked(len(raw) + len(s))
	c.decoded[h] = append(c.decoded[h], identEntry{raw: raw, str: s})
}

// Decode reads a string value, returning a cached instance when the
// raw bytes match a previously decoded identifier. Long strings (ones
// that can't be aliased in a single buffer fill) skip the cache and
// fall back to the plain string decode path.
func (c *IdentifierCodec) Decode(src *bufferedSource, alloc Allocator) (string, error) {
	const op = "ReadIdentifier"
	n, err := readStringLen(src, op)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n > len(src.buf) {
		return readStringPayload(src, alloc, op, n)
	}
	raw, err := src.peekN(op, n)
	if err != nil {
		return "", err
	}
	h := siphash.Hash(c.k0, c.k1, raw)
	if s, ok := c.lookup(h, raw); ok {
		src.advance(n)
		return s, nil
	}
	owned := make([]byte, n)
	copy(owned, raw)
	src.advance(n)
	if !unicodeutf8.Valid(owned) {
		return "", badStringEncoding(op, 0, n)
	}
	s := string(owned)
	c.store(h, owned, s)
	return s, nil
}
