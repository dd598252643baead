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
	"encoding/binary"
	"io"
	"math"
)

// bufferedSource owns a read buffer and amortizes per-byte reads
// against the underlying Source. Between operations the buffer is in
// "read mode": [pos, limit) holds unread bytes, [limit, cap) is free
// scratch for the next refill.
type bufferedSource struct {
	provider Source
	alloc    Allocator
	leased   *LeasedBytes
	buf      []byte
	pos      int
	limit    int
	closed   bool
}

func newBufferedSource(provider Source, alloc Allocator, capacity int) (*bufferedSource, error) {
	if capacity < minBufferClass {
		return nil, programmingError("NewBufferedSource", "buffer capacity below minimum")
	}
	leased, err := alloc.LeaseBytes(capacity)
	if err != nil {
		return nil, err
	}
	return &bufferedSource{provider: provider, alloc: alloc, leased: leased, buf: leased.Bytes()}, nil
}

func (s *bufferedSource) remaining() int { return s.limit - s.pos }

// ensureRemaining compacts and refills until at least n bytes are
// readable, or fails with UnexpectedEnd at the provider's EOF.
func (s *bufferedSource) ensureRemaining(op string, n int) error {
	if s.closed {
		return programmingError(op, "source is closed")
	}
	if s.remaining() >= n {
		return nil
	}
	if n > len(s.buf) {
		return programmingError(op, "requested size exceeds buffer capacity")
	}
	copy(s.buf, s.buf[s.pos:s.limit])
	s.limit -= s.pos
	s.pos = 0
	for s.limit < n {
		got, err := s.provider.Read(s.buf[s.limit:], n-s.limit)
		s.limit += got
		if err != nil {
			if err == io.EOF {
				return unexpectedEnd(op, n, s.limit)
			}
			return ioErr(op, err)
		}
		if got == 0 {
			return nonBlocking(op)
		}
	}
	return nil
}

// nextByte peeks without consuming.
func (s *bufferedSource) nextByte(op string) (byte, error) {
	if err := s.ensureRemaining(op, 1); err != nil {
		return 0, err
	}
	return s.buf[s.pos], nil
}

func (s *bufferedSource) readByte(op string) (byte, error) {
	if err := s.ensureRemaining(op, 1); err != nil {
		return 0, err
	}
	b := s.buf[s.pos]
	s.pos++
	return b, nil
}

func (s *bufferedSource) readUint16(op string) (uint16, error) {
	if err := s.ensureRemaining(op, 2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(s.buf[s.pos:])
	s.pos += 2
	return v, nil
}

func (s *bufferedSource) readUint32(op string) (uint32, error) {
	if err := s.ensureRemaining(op, 4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(s.buf[s.pos:])
	s.pos += 4
	return v, nil
}

func (s *bufferedSource) readUint64(op string) (uint64, error) {
	if err := s.ensureRemaining(op, 8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(s.buf[s.pos:])
	s.pos += 8
	return v, nil
}

func (s *bufferedSource) readFloat32(op string) (float32, error) {
	bits, err := s.readUint32(op)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

func (s *bufferedSource) readFloat64(op string) (float64, error) {
	bits, err := s.readUint64(op)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// readLength32 reads an unsigned 32-bit length, rejecting a set high
// bit (which would be negative if interpreted as signed).
func (s *bufferedSource) readLength32(op string) (uint32, error) {
	v, err := s.readUint32(op)
	if err != nil {
		return 0, err
	}
	if v&0x80000000 != 0 {
		return 0, sizeLimit(op, int64(v), math.MaxInt32)
	}
	return v, nil
}

// peekN returns a view of the next n bytes without consuming them;
// the returned slice aliases the internal buffer and is only valid
// until the next ensureRemaining call.
func (s *bufferedSource) peekN(op string, n int) ([]byte, error) {
	if err := s.ensureRemaining(op, n); err != nil {
		return nil, err
	}
	return s.buf[s.pos : s.pos+n], nil
}

func (s *bufferedSource) advance(n int) { s.pos += n }

func (s *bufferedSource) skip(n int64) error {
	have := int64(s.remaining())
	if have > n {
		have = n
	}
	s.pos += int(have)
	n -= have
	if n == 0 {
		return nil
	}
	s.pos, s.limit = 0, 0
	return s.provider.Skip(n, s.buf)
}

func (s *bufferedSource) transferTo(w io.Writer, length int64) (int64, error) {
	have := int64(s.remaining())
	if have > length {
		have = length
	}
	var total int64
	if have > 0 {
		if _, err := w.Write(s.buf[s.pos : s.pos+int(have)]); err != nil {
			return 0, ioErr("TransferTo", err)
		}
		s.pos += int(have)
		total = have
	}
	remaining := length - total
	if remaining == 0 {
		return total, nil
	}
	n, err := s.provider.TransferTo(w, remaining, s.buf)
	return total + n, err
}

// readPayload fills buf as much as possible, draining the read buffer
// first, then reading directly from the provider.
func (s *bufferedSource) readPayload(buf []byte) (int, error) {
	n := copy(buf, s.buf[s.pos:s.limit])
	s.pos += n
	if n == len(buf) {
		return n, nil
	}
	more, err := s.provider.Read(buf[n:], len(buf)-n)
	return n + more, err
}

func (s *bufferedSource) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.leased.Release()
	return s.provider.Close()
}
