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

	"github.com/mxpack/mxpack/date"
)

// WriterOptions configures a Writer's buffering and encoder choices.
type WriterOptions struct {
	Allocator           Allocator
	WriteBufferCapacity int
	StringEncoder       StringEncoder
	IdentifierEncoder   StringEncoder
}

// DefaultWriterOptions returns the recognized option defaults: a
// pooled allocator and an 8 KiB write buffer.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		Allocator:           NewPooledAllocator(DefaultAllocatorOptions()),
		WriteBufferCapacity: defaultBufferCapacity,
	}
}

// Writer is the high-level MessagePack encoder. It does not buffer a
// value tree; callers match each header write with the announced
// number of follow-on calls. A Writer is not safe for concurrent use.
type Writer struct {
	sink *bufferedSink
	opts WriterOptions
}

// NewWriter builds a Writer over an arbitrary Sink.
func NewWriter(sink Sink, opts WriterOptions) (*Writer, error) {
	if opts.Allocator == nil {
		opts.Allocator = NewPooledAllocator(DefaultAllocatorOptions())
	}
	capacity := opts.WriteBufferCapacity
	if capacity == 0 {
		capacity = defaultBufferCapacity
	}
	bs, err := newBufferedSink(sink, opts.Allocator, capacity)
	if err != nil {
		return nil, err
	}
	return &Writer{sink: bs, opts: opts}, nil
}

// NewStreamWriter builds a Writer over an io.Writer.
func NewStreamWriter(w io.Writer, opts WriterOptions) (*Writer, error) {
	return NewWriter(NewStreamSink(w), opts)
}

// NewChannelWriter builds a Writer over a channel-capable io.Writer
// (one that may be a *net.TCPConn or *os.File, enabling gathering
// writes or sendfile-based transfers).
func NewChannelWriter(w io.Writer, opts WriterOptions) (*Writer, error) {
	return NewWriter(NewChannelSink(w), opts)
}

// WriteNil writes the nil format code.
func (w *Writer) WriteNil() error { return w.sink.writeByte("WriteNil", fmtNil) }

// WriteBool writes true or false.
func (w *Writer) WriteBool(v bool) error {
	if v {
		return w.sink.writeByte("WriteBool", fmtTrue)
	}
	return w.sink.writeByte("WriteBool", fmtFalse)
}

// WriteInt8 writes v using the minimal lossless encoding.
func (w *Writer) WriteInt8(v int8) error { return writeIntMinimal(w.sink, "WriteInt8", int64(v)) }

// WriteInt16 writes v using the minimal lossless encoding.
func (w *Writer) WriteInt16(v int16) error { return writeIntMinimal(w.sink, "WriteInt16", int64(v)) }

// WriteInt32 writes v using the minimal lossless encoding.
func (w *Writer) WriteInt32(v int32) error { return writeIntMinimal(w.sink, "WriteInt32", int64(v)) }

// WriteInt64 writes v using the minimal lossless encoding (the full
// width tree from which the narrower overloads are pruned).
func (w *Writer) WriteInt64(v int64) error { return writeIntMinimal(w.sink, "WriteInt64", v) }

// WriteUint8 writes v using the unsigned-only minimal encoding.
func (w *Writer) WriteUint8(v uint8) error { return writeUintMinimal(w.sink, "WriteUint8", uint64(v)) }

// WriteUint16 writes v using the unsigned-only minimal encoding.
func (w *Writer) WriteUint16(v uint16) error {
	return writeUintMinimal(w.sink, "WriteUint16", uint64(v))
}

// WriteUint32 writes v using the unsigned-only minimal encoding.
func (w *Writer) WriteUint32(v uint32) error {
	return writeUintMinimal(w.sink, "WriteUint32", uint64(v))
}

// WriteUint64 writes v using the unsigned-only minimal encoding.
func (w *Writer) WriteUint64(v uint64) error { return writeUintMinimal(w.sink, "WriteUint64", v) }

// WriteFloat32 writes v as a fixed-width float32; it is never widened
// or narrowed.
func (w *Writer) WriteFloat32(v float32) error {
	return w.sink.writeFormatFloat32("WriteFloat32", fmtFloat32, v)
}

// WriteFloat64 writes v as a fixed-width float64.
func (w *Writer) WriteFloat64(v float64) error {
	return w.sink.writeFormatFloat64("WriteFloat64", fmtFloat64, v)
}

// WriteTimestamp writes t using the narrowest of the three valid
// timestamp encodings (4, 8, or 12 bytes).
func (w *Writer) WriteTimestamp(t date.Time) error {
	return writeTimestampRaw(w.sink, "WriteTimestamp", t.Unix(), uint32(t.Nanosecond()))
}

// WriteString encodes s through the string codec.
func (w *Writer) WriteString(s string) error {
	enc := w.opts.StringEncoder
	if enc == nil {
		enc = defaultStringEncoder{}
	}
	return enc.Encode(w.sink, w.opts.Allocator, s)
}

// WriteIdentifier encodes s through the identifier-cache string
// codec variant when one is configured, else behaves like WriteString.
func (w *Writer) WriteIdentifier(s string) error {
	enc := w.opts.IdentifierEncoder
	if enc == nil {
		enc = w.opts.StringEncoder
	}
	if enc == nil {
		enc = defaultStringEncoder{}
	}
	return enc.Encode(w.sink, w.opts.Allocator, s)
}

// WriteArrayHeader announces an array of n elements. Callers must
// follow with exactly n value writes.
func (w *Writer) WriteArrayHeader(n int) error {
	return writeContainerHeader(w.sink, "WriteArrayHeader", n, fixarrayMin, fmtArray16, fmtArray32)
}

// WriteMapHeader announces a map of n entries. Callers must follow
// with exactly 2n value writes (key, value, key, value, ...).
func (w *Writer) WriteMapHeader(n int) error {
	return writeContainerHeader(w.sink, "WriteMapHeader", n, fixmapMin, fmtMap16, fmtMap32)
}

// WriteStringHeader writes a string header for a payload of n bytes
// that the caller will write separately via WritePayload.
func (w *Writer) WriteStringHeader(n int) error {
	return writeStringHeaderRaw(w.sink, "WriteStringHeader", n)
}

// WriteBinaryHeader writes a binary header for a payload of n bytes.
func (w *Writer) WriteBinaryHeader(n int) error {
	return writeBinaryHeaderRaw(w.sink, "WriteBinaryHeader", n)
}

// WriteExtensionHeader writes an extension header for a payload of n
// bytes tagged with extType (-1 is reserved for timestamps).
func (w *Writer) WriteExtensionHeader(n int, extType int8) error {
	return writeExtensionHeaderRaw(w.sink, "WriteExtensionHeader", n, extType)
}

// WritePayload appends buf to the sink, zero-copy when it does not
// fit the write buffer's free space.
func (w *Writer) WritePayload(buf []byte) error {
	return w.sink.writePayload("WritePayload", buf)
}

// WritePayloadList writes each buffer in bufs in order, as a single
// gathering write when the sink supports one.
func (w *Writer) WritePayloadList(bufs [][]byte) error {
	return w.sink.writePayloadList("WritePayloadList", bufs)
}

// WritePayloadFrom copies exactly n bytes from r into the sink.
func (w *Writer) WritePayloadFrom(r io.Reader, n int64) (int64, error) {
	return w.sink.transferFrom(r, n)
}

// Flush writes any pending buffered bytes to the underlying sink.
func (w *Writer) Flush() error { return w.sink.flush() }

// Close flushes and closes the underlying sink. Idempotent.
func (w *Writer) Close() error { return w.sink.close() }

func writeUintMinimal(s *bufferedSink, op string, v uint64) error {
	if v <= fixintPosMax {
		return s.writeByte(op, byte(v))
	}
	switch {
	case v < 1<<8:
		return s.writeFormatUint8(op, fmtUint8, byte(v))
	case v < 1<<16:
		return s.writeFormatUint16(op, fmtUint16, uint16(v))
	case v < 1<<32:
		return s.writeFormatUint32(op, fmtUint32, uint32(v))
	default:
		return s.writeFormatUint64(op, fmtUint64, v)
	}
}

func writeIntMinimal(s *bufferedSink, op string, v int64) error {
	if v >= 0 {
		return writeUintMinimal(s, op, uint64(v))
	}
	if v >= -32 {
		return s.writeByte(op, byte(int8(v)))
	}
	switch {
	case v < -(1 << 31):
		return s.writeFormatUint64(op, fmtInt64, uint64(v))
	case v < -(1 << 15):
		return s.writeFormatUint32(op, fmtInt32, uint32(int32(v)))
	case v < -(1 << 7):
		return s.writeFormatUint16(op, fmtInt16, uint16(int16(v)))
	default:
		return s.writeFormatUint8(op, fmtInt8, byte(int8(v)))
	}
}

func writeContainerHeader(s *bufferedSink, op string, n int, fixBase, fmt16, fmt32 byte) error {
	if n < 0 {
		return programmingError(op, "negative count")
	}
	switch {
	case n < 16:
		return s.writeByte(op, fixBase|byte(n))
	case n < 1<<16:
		return s.writeFormatUint16(op, fmt16, uint16(n))
	case uint64(n) < 1<<32:
		return s.writeFormatUint32(op, fmt32, uint32(n))
	default:
		return sizeLimit(op, int64(n), math.MaxUint32)
	}
}

func writeStringHeaderRaw(s *bufferedSink, op string, n int) error {
	if n < 0 {
		return programmingError(op, "negative length")
	}
	switch {
	case n < 32:
		return s.writeByte(op, fixstrMin|byte(n))
	case n < 256:
		return s.writeFormatUint8(op, fmtStr8, byte(n))
	case n < 1<<16:
		return s.writeFormatUint16(op, fmtStr16, uint16(n))
	case uint64(n) < 1<<32:
		return s.writeFormatUint32(op, fmtStr32, uint32(n))
	default:
		return sizeLimit(op, int64(n), math.MaxUint32)
	}
}

func writeBinaryHeaderRaw(s *bufferedSink, op string, n int) error {
	if n < 0 {
		return programmingError(op, "negative length")
	}
	switch {
	case n < 256:
		return s.writeFormatUint8(op, fmtBin8, byte(n))
	case n < 1<<16:
		return s.writeFormatUint16(op, fmtBin16, uint16(n))
	case uint64(n) < 1<<32:
		return s.writeFormatUint32(op, fmtBin32, uint32(n))
	default:
		return sizeLimit(op, int64(n), math.MaxUint32)
	}
}

func writeExtensionHeaderRaw(s *bufferedSink, op string, n int, extType int8) error {
	if n < 0 {
		return programmingError(op, "negative length")
	}
	switch n {
	case 1:
		return s.writeFormatUint8(op, fmtFixExt1, byte(extType))
	case 2:
		return s.writeFormatUint8(op, fmtFixExt2, byte(extType))
	case 4:
		return s.writeFormatUint8(op, fmtFixExt4, byte(extType))
	case 8:
		return s.writeFormatUint8(op, fmtFixExt8, byte(extType))
	case 16:
		return s.writeFormatUint8(op, fmtFixExt16, byte(extType))
	}
	switch {
	case n < 256:
		if err := s.writeFormatUint8(op, fmtExt8, byte(n)); err != nil {
			return err
		}
	case n < 1<<16:
		if err := s.writeFormatUint16(op, fmtExt16, uint16(n)); err != nil {
			return err
		}
	case uint64(n) < 1<<32:
		if err := s.writeFormatUint32(op, fmtExt32, uint32(n)); err != nil {
			return err
		}
	default:
		return sizeLimit(op, int64(n), math.MaxUint32)
	}
	return s.writeByte(op, byte(extType))
}

// timestampExtType is int8(-1) as a raw byte, the MessagePack
// extension type reserved for timestamps.
const timestampExtType = 0xff

func writeTimestampRaw(s *bufferedSink, op string, sec int64, nanos uint32) error {
	switch {
	case nanos == 0 && sec >= 0 && sec < 1<<32:
		return s.writeRaw(op, 6, func(b []byte) {
			b[0] = fmtFixExt4
			b[1] = timestampExtType
			binary.BigEndian.PutUint32(b[2:], uint32(sec))
		})
	case sec >= 0 && sec < 1<<34:
		packed := (uint64(nanos) << 34) | uint64(sec)
		return s.writeRaw(op, 10, func(b []byte) {
			b[0] = fmtFixExt8
			b[1] = timestampExtType
			binary.BigEndian.PutUint64(b[2:], packed)
		})
	default:
		return s.writeRaw(op, 15, func(b []byte) {
			b[0] = fmtExt8
			b[1] = 12
			b[2] = timestampExtType
			binary.BigEndian.PutUint32(b[3:], nanos)
			binary.BigEndian.PutUint64(b[7:], uint64(sec))
		})
	}
}
