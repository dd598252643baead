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

// bufferedSink owns a write buffer and amortizes per-byte writes
// against the underlying Sink. Between operations the buffer is in
// "write mode": [0, pos) is pending bytes awaiting flush, [pos, cap)
// is free.
type bufferedSink struct {
	provider Sink
	alloc    Allocator
	leased   *LeasedBytes
	buf      []byte
	pos      int
	closed   bool
}

const defaultBufferCapacity = 8 * 1024

func newBufferedSink(provider Sink, alloc Allocator, capacity int) (*bufferedSink, error) {
	if capacity < minBufferClass {
		return nil, programmingError("NewBufferedSink", "buffer capacity below minimum")
	}
	leased, err := alloc.LeaseBytes(capacity)
	if err != nil {
		return nil, err
	}
	return &bufferedSink{provider: provider, alloc: alloc, leased: leased, buf: leased.Bytes()}, nil
}

func (s *bufferedSink) free() int { return len(s.buf) - s.pos }

func (s *bufferedSink) ensureRemaining(op string, n int) error {
	if s.closed {
		return programmingError(op, "sink is closed")
	}
	if s.free() >= n {
		return nil
	}
	if err := s.flushBuffer(op); err != nil {
		return err
	}
	if n > len(s.buf) {
		return programmingError(op, "requested size exceeds buffer capacity")
	}
	return nil
}

func (s *bufferedSink) flushBuffer(op string) error {
	if s.pos == 0 {
		return nil
	}
	if err := s.provider.Write(s.buf[:s.pos]); err != nil {
		return err
	}
	s.pos = 0
	return nil
}

func (s *bufferedSink) writeByte(op string, b byte) error {
	if err := s.ensureRemaining(op, 1); err != nil {
		return err
	}
	s.buf[s.pos] = b
	s.pos++
	return nil
}

func (s *bufferedSink) writeFormatUint8(op string, format, v byte) error {
	if err := s.ensureRemaining(op, 2); err != nil {
		return err
	}
	s.buf[s.pos] = format
	s.buf[s.pos+1] = v
	s.pos += 2
	return nil
}

func (s *bufferedSink) writeFormatUint16(op string, format byte, v uint16) error {
	if err := s.ensureRemaining(op, 3); err != nil {
		return err
	}
	s.buf[s.pos] = format
	binary.BigEndian.PutUint16(s.buf[s.pos+1:], v)
	s.pos += 3
	return nil
}

func (s *bufferedSink) writeFormatUint32(op string, format byte, v uint32) error {
	if err := s.ensureRemaining(op, 5); err != nil {
		return err
	}
	s.buf[s.pos] = format
	binary.BigEndian.PutUint32(s.buf[s.pos+1:], v)
	s.pos += 5
	return nil
}

func (s *bufferedSink) writeFormatUint64(op string, format byte, v uint64) error {
	if err := s.ensureRemaining(op, 9); err != nil {
		return err
	}
	s.buf[s.pos] = format
	binary.BigEndian.PutUint64(s.buf[s.pos+1:], v)
	s.pos += 9
	return nil
}

func (s *bufferedSink) writeFormatFloat32(op string, format byte, v float32) error {
	return s.writeFormatUint32(op, format, math.Float32bits(v))
}

func (s *bufferedSink) writeFormatFloat64(op string, format byte, v float64) error {
	return s.writeFormatUint64(op, format, math.Float64bits(v))
}

// reserve claims n bytes in the write buffer and returns their offset,
// so the caller can patch them in place through bytesAt once the
// value to put there is known.
func (s *bufferedSink) reserve(op string, n int) (int, error) {
	if err := s.ensureRemaining(op, n); err != nil {
		return 0, err
	}
	at := s.pos
	s.pos += n
	return at, nil
}

func (s *bufferedSink) bytesAt(at int) []byte { return s.buf[at:s.pos] }

// writeRaw reserves n bytes, lets fill populate them in place, and
// advances past them. Used for multi-field headers (timestamps,
// extensions) that don't fit the single-format-plus-value shape of
// the writeFormatUintN helpers.
func (s *bufferedSink) writeRaw(op string, n int, fill func(buf []byte)) error {
	if err := s.ensureRemaining(op, n); err != nil {
		return err
	}
	fill(s.buf[s.pos : s.pos+n])
	s.pos += n
	return nil
}

// writePayload appends payload if it fits in the free space of the
// write buffer; otherwise the buffer is flushed and payload is handed
// to the provider directly (zero copy).
func (s *bufferedSink) writePayload(op string, payload []byte) error {
	if s.closed {
		return programmingError(op, "sink is closed")
	}
	if len(payload) <= s.free() {
		copy(s.buf[s.pos:], payload)
		s.pos += len(payload)
		return nil
	}
	if err := s.flushBuffer(op); err != nil {
		return err
	}
	return s.provider.Write(payload)
}

// writePayloadList flushes pending bytes then hands all buffers to
// the provider together, so a gathering provider can write them in
// one syscall.
func (s *bufferedSink) writePayloadList(op string, bufs [][]byte) error {
	if s.closed {
		return programmingError(op, "sink is closed")
	}
	if err := s.flushBuffer(op); err != nil {
		return err
	}
	return s.provider.WriteVectored(bufs)
}

func (s *bufferedSink) transferFrom(r io.Reader, length int64) (int64, error) {
	if err := s.flushBuffer("TransferFrom"); err != nil {
		return 0, err
	}
	return s.provider.TransferFrom(r, length, s.buf)
}

func (s *bufferedSink) flush() error {
	if s.closed {
		return programmingError("Flush", "sink is closed")
	}
	if err := s.flushBuffer("Flush"); err != nil {
		return err
	}
	return s.provider.Flush()
}

func (s *bufferedSink) close() error {
	if s.closed {
		return nil
	}
	err := s.flushBuffer("Close")
	s.closed = true
	s.leased.Release()
	if cerr := s.provider.Close(); err == nil {
		err = cerr
	}
	return err
}
