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
	"math"
	"math/bits"
	"sync"

	"golang.org/x/exp/slices"
)

// Allocator leases and recycles byte and char buffers used by readers,
// writers, and the string codec's scratch space. A "char buffer" here
// is the same []byte representation as a byte buffer (Go strings are
// UTF-8 byte sequences, not fixed-width char arrays), kept as a
// distinct lease kind so char buffers and byte buffers are pooled in
// separate size classes, matching the two-pool shape described for
// the allocator.
type Allocator interface {
	LeaseBytes(minCapacity int) (*LeasedBytes, error)
	LeaseChars(minCapacity int) (*LeasedChars, error)
	MaxByteCapacity() int
	MaxCharCapacity() int
	Close() error
}

// AllocatorOptions configures a pooled or unpooled Allocator.
type AllocatorOptions struct {
	MaxByteBufferCapacity       int
	MaxCharBufferCapacity       int
	MaxPooledByteBufferCapacity int
	MaxPooledCharBufferCapacity int
	MaxByteBufferPoolCapacity   int
	MaxCharBufferPoolCapacity   int
	PreferDirectBuffers         bool
}

// DefaultAllocatorOptions returns the recognized option defaults.
func DefaultAllocatorOptions() AllocatorOptions {
	return AllocatorOptions{
		MaxByteBufferCapacity:       math.MaxInt32,
		MaxCharBufferCapacity:       math.MaxInt32,
		MaxPooledByteBufferCapacity: 1 << 20,        // 1 MiB
		MaxPooledCharBufferCapacity: 512 * 1024,     // 512 Ki-chars
		MaxByteBufferPoolCapacity:   64 << 20,       // 64 MiB
		MaxCharBufferPoolCapacity:   32 * 1024 * 1024, // 32 Mi-chars
		PreferDirectBuffers:         false,
	}
}

const minBufferClass = 16

// classSize rounds min up to the nearest power of two, floored at
// minBufferClass.
func classSize(min int) int {
	if min <= minBufferClass {
		return minBufferClass
	}
	return 1 << bits.Len(uint(min-1))
}

// LeasedBytes is a handle owning exclusive access to a byte buffer
// drawn from an Allocator. At most one owner holds it at a time;
// Release is idempotent; using it after Release is a programming
// error left to the caller to avoid (the zero-length result of a
// stale Bytes() call make such misuse visible quickly).
type LeasedBytes struct {
	buf      []byte
	pool     *PooledAllocator
	class    int
	released bool
}

// Bytes returns the full leased buffer (capacity >= the capacity
// requested at lease time).
func (l *LeasedBytes) Bytes() []byte { return l.buf }

// Release returns the buffer to its allocator, if pooled. Idempotent.
func (l *LeasedBytes) Release() {
	if l.released {
		return
	}
	l.released = true
	if l.pool != nil {
		l.pool.releaseBytes(l.class, l.buf)
	}
	l.buf = nil
}

// LeasedChars is the char-buffer analogue of LeasedBytes.
type LeasedChars struct {
	buf      []byte
	pool     *PooledAllocator
	class    int
	released bool
}

func (l *LeasedChars) Bytes() []byte { return l.buf }

func (l *LeasedChars) Release() {
	if l.released {
		return
	}
	l.released = true
	if l.pool != nil {
		l.pool.releaseChars(l.class, l.buf)
	}
	l.buf = nil
}

type classPool struct {
	mu   sync.Mutex
	free [][]byte
}

func (c *classPool) pop() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.free)
	if n == 0 {
		return nil
	}
	buf := c.free[n-1]
	c.free[n-1] = nil
	c.free = c.free[:n-1]
	return buf
}

func (c *classPool) push(buf []byte) {
	c.mu.Lock()
	c.free = slices.Grow(c.free, 1)
	c.free = append(c.free, buf)
	c.mu.Unlock()
}

func (c *classPool) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.free)
}

// PooledAllocator is the pooled Allocator variant: a size-classed
// free-list pool keyed by power-of-two capacity, separate for byte
// and char buffers.
type PooledAllocator struct {
	opts AllocatorOptions

	structMu    sync.Mutex
	byteClasses map[int]*classPool
	charClasses map[int]*classPool
	closed      bool
}

// NewPooledAllocator constructs a pooled allocator from opts.
func NewPooledAllocator(opts AllocatorOptions) *PooledAllocator {
	return &PooledAllocator{
		opts:        opts,
		byteClasses: make(map[int]*classPool),
		charClasses: make(map[int]*classPool),
	}
}

func (p *PooledAllocator) classFor(classes map[int]*classPool, size int) *classPool {
	p.structMu.Lock()
	cp := classes[size]
	if cp == nil {
		cp = &classPool{}
		classes[size] = cp
	}
	p.structMu.Unlock()
	return cp
}

func (p *PooledAllocator) poolTotal(classes map[int]*classPool) int {
	total := 0
	for size, cp := range classes {
		total += cp.len() * size
	}
	return total
}

func (p *PooledAllocator) lease(op string, classes map[int]*classPool, min, maxCapacity, maxPooled int) ([]byte, int, *PooledAllocator, error) {
	p.structMu.Lock()
	closed := p.closed
	p.structMu.Unlock()
	if closed {
		return nil, 0, nil, programmingError(op, "allocator is closed")
	}
	if min < 0 {
		return nil, 0, nil, programmingError(op, "negative capacity requested")
	}
	if min > maxCapacity {
		return nil, 0, nil, sizeLimit(op, int64(min), int64(maxCapacity))
	}
	class := classSize(min)
	if class > maxPooled {
		// Too large to pool: always an unpooled heap buffer.
		return make([]byte, class), class, nil, nil
	}
	cp := p.classFor(classes, class)
	if buf := cp.pop(); buf != nil {
		return buf, class, p, nil
	}
	return make([]byte, class), class, p, nil
}

// LeaseBytes leases a byte buffer with capacity >= minCapacity.
func (p *PooledAllocator) LeaseBytes(minCapacity int) (*LeasedBytes, error) {
	buf, class, owner, err := p.lease("LeaseBytes", p.byteClasses, minCapacity, p.opts.MaxByteBufferCapacity, p.opts.MaxPooledByteBufferCapacity)
	if err != nil {
		return nil, err
	}
	return &LeasedBytes{buf: buf, class: class, pool: owner}, nil
}

// LeaseChars leases a char buffer with capacity >= minCapacity.
func (p *PooledAllocator) LeaseChars(minCapacity int) (*LeasedChars, error) {
	buf, class, owner, err := p.lease("LeaseChars", p.charClasses, minCapacity, p.opts.MaxCharBufferCapacity, p.opts.MaxPooledCharBufferCapacity)
	if err != nil {
		return nil, err
	}
	return &LeasedChars{buf: buf, class: class, pool: owner}, nil
}

func (p *PooledAllocator) releaseBytes(class int, buf []byte) {
	p.release(p.byteClasses, class, buf, p.opts.MaxByteBufferPoolCapacity)
}

func (p *PooledAllocator) releaseChars(class int, buf []byte) {
	p.release(p.charClasses, class, buf, p.opts.MaxCharBufferPoolCapacity)
}

func (p *PooledAllocator) release(classes map[int]*classPool, class int, buf []byte, poolLimit int) {
	p.structMu.Lock()
	closed := p.closed
	p.structMu.Unlock()
	if closed {
		return
	}
	if p.poolTotal(classes)+class > poolLimit {
		return // drop: would exceed pool capacity
	}
	p.classFor(classes, class).push(buf)
}

func (p *PooledAllocator) MaxByteCapacity() int { return p.opts.MaxByteBufferCapacity }
func (p *PooledAllocator) MaxCharCapacity() int { return p.opts.MaxCharBufferCapacity }

// Close frees the pool. Idempotent; subsequent lease attempts fail
// with a ProgrammingError and outstanding leases are simply dropped on
// release rather than pooled.
func (p *PooledAllocator) Close() error {
	p.structMu.Lock()
	defer p.structMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.byteClasses = make(map[int]*classPool)
	p.charClasses = make(map[int]*classPool)
	return nil
}

// UnpooledAllocator leases a fresh, exactly-class-sized buffer on
// every call and never recycles them; Release is a no-op beyond
// marking the lease closed.
type UnpooledAllocator struct {
	opts   AllocatorOptions
	mu     sync.Mutex
	closed bool
}

// NewUnpooledAllocator constructs an unpooled allocator from opts.
func NewUnpooledAllocator(opts AllocatorOptions) *UnpooledAllocator {
	return &UnpooledAllocator{opts: opts}
}

func (u *UnpooledAllocator) isClosed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

func (u *UnpooledAllocator) LeaseBytes(minCapacity int) (*LeasedBytes, error) {
	if u.isClosed() {
		return nil, programmingError("LeaseBytes", "allocator is closed")
	}
	if minCapacity < 0 {
		return nil, programmingError("LeaseBytes", "negative capacity requested")
	}
	if minCapacity > u.opts.MaxByteBufferCapacity {
		return nil, sizeLimit("LeaseBytes", int64(minCapacity), int64(u.opts.MaxByteBufferCapacity))
	}
	return &LeasedBytes{buf: make([]byte, classSize(minCapacity))}, nil
}

func (u *UnpooledAllocator) LeaseChars(minCapacity int) (*LeasedChars, error) {
	if u.isClosed() {
		return nil, programmingError("LeaseChars", "allocator is closed")
	}
	if minCapacity < 0 {
		return nil, programmingError("LeaseChars", "negative capacity requested")
	}
	if minCapacity > u.opts.MaxCharBufferCapacity {
		return nil, sizeLimit("LeaseChars", int64(minCapacity), int64(u.opts.MaxCharBufferCapacity))
	}
	return &LeasedChars{buf: make([]byte, classSize(minCapacity))}, nil
}

func (u *UnpooledAllocator) MaxByteCapacity() int { return u.opts.MaxByteBufferCapacity }
func (u *UnpooledAllocator) MaxCharCapacity() int { return u.opts.MaxCharBufferCapacity }

func (u *UnpooledAllocator) Close() error {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	return nil
}
