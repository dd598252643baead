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
	"io"
	"math"

	"github.com/mxpack/mxpack/date"
)

// ReaderOptions configures a Reader's buffering and decoder choices.
type ReaderOptions struct {
	Allocator          Allocator
	ReadBufferCapacity int
	StringDecoder      StringDecoder
	IdentifierDecoder  StringDecoder
}

// DefaultReaderOptions returns the recognized option defaults: a
// pooled allocator and an 8 KiB read buffer.
func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{
		Allocator:          NewPooledAllocator(DefaultAllocatorOptions()),
		ReadBufferCapacity: defaultBufferCapacity,
	}
}

// Reader is the high-level MessagePack decoder. A Reader is not safe
// for concurrent use.
type Reader struct {
	src  *bufferedSource
	opts ReaderOptions
}

// NewReader builds a Reader over an arbitrary Source.
func NewReader(source Source, opts ReaderOptions) (*Reader, error) {
	if opts.Allocator == nil {
		opts.Allocator = NewPooledAllocator(DefaultAllocatorOptions())
	}
	capacity := opts.ReadBufferCapacity
	if capacity == 0 {
		capacity = defaultBufferCapacity
	}
	bs, err := newBufferedSource(source, opts.Allocator, capacity)
	if err != nil {
		return nil, err
	}
	return &Reader{src: bs, opts: opts}, nil
}

// NewStreamReader builds a Reader over an io.Reader.
func NewStreamReader(r io.Reader, opts ReaderOptions) (*Reader, error) {
	return NewReader(NewStreamSource(r), opts)
}

// NewChannelReader builds a Reader over a channel-capable io.Reader
// (one that may be an *os.File, enabling sendfile-based transfers).
func NewChannelReader(r io.Reader, opts ReaderOptions) (*Reader, error) {
	return NewReader(NewChannelSource(r), opts)
}

// Close closes the underlying source. Idempotent.
func (r *Reader) Close() error { return r.src.close() }

// NextType peeks the next format byte and projects it through the
// format table, without consuming it.
func (r *Reader) NextType() (Type, error) {
	b, err := r.src.nextByte("NextType")
	if err != nil {
		return Invalid, err
	}
	return formatType(b), nil
}

// ReadNil consumes a nil value.
func (r *Reader) ReadNil() error {
	const op = "ReadNil"
	b, err := r.src.readByte(op)
	if err != nil {
		return err
	}
	if b != fmtNil {
		return typeMismatch(op, Nil, formatType(b))
	}
	return nil
}

// ReadBool consumes a bool value.
func (r *Reader) ReadBool() (bool, error) {
	const op = "ReadBool"
	b, err := r.src.readByte(op)
	if err != nil {
		return false, err
	}
	switch b {
	case fmtTrue:
		return true, nil
	case fmtFalse:
		return false, nil
	default:
		return false, typeMismatch(op, Bool, formatType(b))
	}
}

// readRawInteger reads one integer-family format and returns its
// value's bit pattern in mag. When neg is false, mag is the plain
// non-negative magnitude (valid up to the full uint64 range). When
// neg is true, mag is the two's-complement bit pattern of a negative
// int64 (int64(mag) reproduces the original value exactly).
func (r *Reader) readRawInteger(op string) (mag uint64, neg bool, err error) {
	b, err := r.src.readByte(op)
	if err != nil {
		return 0, false, err
	}
	switch {
	case b <= fixintPosMax:
		return uint64(b), false, nil
	case b >= fixintNegMin:
		return uint64(int64(int8(b))), true, nil
	case b == fmtUint8:
		v, err := r.src.readByte(op)
		return uint64(v), false, err
	case b == fmtUint16:
		v, err := r.src.readUint16(op)
		return uint64(v), false, err
	case b == fmtUint32:
		v, err := r.src.readUint32(op)
		return uint64(v), false, err
	case b == fmtUint64:
		v, err := r.src.readUint64(op)
		return v, false, err
	case b == fmtInt8:
		v, err := r.src.readByte(op)
		if err != nil {
			return 0, false, err
		}
		sv := int8(v)
		return uint64(int64(sv)), sv < 0, nil
	case b == fmtInt16:
		v, err := r.src.readUint16(op)
		if err != nil {
			return 0, false, err
		}
		sv := int16(v)
		return uint64(int64(sv)), sv < 0, nil
	case b == fmtInt32:
		v, err := r.src.readUint32(op)
		if err != nil {
			return 0, false, err
		}
		sv := int32(v)
		return uint64(int64(sv)), sv < 0, nil
	case b == fmtInt64:
		v, err := r.src.readUint64(op)
		if err != nil {
			return 0, false, err
		}
		sv := int64(v)
		return uint64(sv), sv < 0, nil
	default:
		return 0, false, typeMismatch(op, Integer, formatType(b))
	}
}

func intRange(bits int) (int64, int64) {
	switch bits {
	case 8:
		return math.MinInt8, math.MaxInt8
	case 16:
		return math.MinInt16, math.MaxInt16
	case 32:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

func uintMax(bits int) uint64 {
	switch bits {
	case 8:
		return math.MaxUint8
	case 16:
		return math.MaxUint16
	case 32:
		return math.MaxUint32
	default:
		return math.MaxUint64
	}
}

func readSignedWidth(r *Reader, op string, bits int) (int64, error) {
	mag, neg, err := r.readRawInteger(op)
	if err != nil {
		return 0, err
	}
	v := int64(mag)
	if !neg && v < 0 {
		return 0, overflow(op, Integer)
	}
	lo, hi := intRange(bits)
	if v < lo || v > hi {
		return 0, overflow(op, Integer)
	}
	return v, nil
}

func readUnsignedWidth(r *Reader, op string, bits int) (uint64, error) {
	mag, neg, err := r.readRawInteger(op)
	if err != nil {
		return 0, err
	}
	if neg {
		return 0, overflow(op, Integer)
	}
	if mag > uintMax(bits) {
		return 0, overflow(op, Integer)
	}
	return mag, nil
}

// ReadInt8 reads an integer format that fits losslessly in int8.
func (r *Reader) ReadInt8() (int8, error) {
	v, err := readSignedWidth(r, "ReadInt8", 8)
	return int8(v), err
}

// ReadInt16 reads an integer format that fits losslessly in int16.
func (r *Reader) ReadInt16() (int16, error) {
	v, err := readSignedWidth(r, "ReadInt16", 16)
	return int16(v), err
}

// ReadInt32 reads an integer format that fits losslessly in int32.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := readSignedWidth(r, "ReadInt32", 32)
	return int32(v), err
}

// ReadInt64 reads any integer format that fits in int64.
func (r *Reader) ReadInt64() (int64, error) {
	return readSignedWidth(r, "ReadInt64", 64)
}

// ReadUint8 reads a non-negative integer format that fits in uint8.
func (r *Reader) ReadUint8() (uint8, error) {
	v, err := readUnsignedWidth(r, "ReadUint8", 8)
	return uint8(v), err
}

// ReadUint16 reads a non-negative integer format that fits in uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	v, err := readUnsignedWidth(r, "ReadUint16", 16)
	return uint16(v), err
}

// ReadUint32 reads a non-negative integer format that fits in uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	v, err := readUnsignedWidth(r, "ReadUint32", 32)
	return uint32(v), err
}

// ReadUint64 reads any non-negative integer format.
func (r *Reader) ReadUint64() (uint64, error) {
	return readUnsignedWidth(r, "ReadUint64", 64)
}

// ReadFloat32 accepts only the float32 format; there is no implicit
// widening from float32 to float64 or vice versa, to preserve bitwise
// round-trip.
func (r *Reader) ReadFloat32() (float32, error) {
	const op = "ReadFloat32"
	b, err := r.src.readByte(op)
	if err != nil {
		return 0, err
	}
	if b != fmtFloat32 {
		return 0, typeMismatch(op, Float, formatType(b))
	}
	return r.src.readFloat32(op)
}

// ReadFloat64 accepts only the float64 format.
func (r *Reader) ReadFloat64() (float64, error) {
	const op = "ReadFloat64"
	b, err := r.src.readByte(op)
	if err != nil {
		return 0, err
	}
	if b != fmtFloat64 {
		return 0, typeMismatch(op, Float, formatType(b))
	}
	return r.src.readFloat64(op)
}

// ReadFloat reads either a float32 or float64 format, widening a
// float32 result to float64. Unlike ReadFloat32/ReadFloat64 (which
// require an exact format match to preserve bitwise round-trip), this
// is a convenience for callers that decode into a dynamically typed
// value tree and don't care about the source's original width.
func (r *Reader) ReadFloat() (float64, error) {
	const op = "ReadFloat"
	b, err := r.src.readByte(op)
	if err != nil {
		return 0, err
	}
	switch b {
	case fmtFloat32:
		v, err := r.src.readFloat32(op)
		return float64(v), err
	case fmtFloat64:
		return r.src.readFloat64(op)
	default:
		return 0, typeMismatch(op, Float, formatType(b))
	}
}

// ReadTimestamp requires an extension header with type -1 and a
// length of 4, 8, or 12 bytes.
func (r *Reader) ReadTimestamp() (date.Time, error) {
	const op = "ReadTimestamp"
	b, err := r.src.readByte(op)
	if err != nil {
		return date.Time{}, err
	}
	var length int
	switch b {
	case fmtFixExt1:
		length = 1
	case fmtFixExt2:
		length = 2
	case fmtFixExt4:
		length = 4
	case fmtFixExt8:
		length = 8
	case fmtFixExt16:
		length = 16
	case fmtExt8:
		lb, err := r.src.readByte(op)
		if err != nil {
			return date.Time{}, err
		}
		length = int(lb)
	case fmtExt16:
		lv, err := r.src.readUint16(op)
		if err != nil {
			return date.Time{}, err
		}
		length = int(lv)
	case fmtExt32:
		lv, err := r.src.readLength32(op)
		if err != nil {
			return date.Time{}, err
		}
		length = int(lv)
	default:
		return date.Time{}, typeMismatch(op, Extension, formatType(b))
	}
	typeByte, err := r.src.readByte(op)
	if err != nil {
		return date.Time{}, err
	}
	if int8(typeByte) != -1 {
		return date.Time{}, badHeader(op, b, "extension type is not -1 (timestamp)")
	}
	switch length {
	case 4:
		sec, err := r.src.readUint32(op)
		if err != nil {
			return date.Time{}, err
		}
		return date.Unix(int64(sec), 0), nil
	case 8:
		packed, err := r.src.readUint64(op)
		if err != nil {
			return date.Time{}, err
		}
		sec := int64(packed & ((1 << 34) - 1))
		nanos := int64(packed >> 34)
		return date.Unix(sec, nanos), nil
	case 12:
		nanos, err := r.src.readUint32(op)
		if err != nil {
			return date.Time{}, err
		}
		sec, err := r.src.readUint64(op)
		if err != nil {
			return date.Time{}, err
		}
		return date.Unix(int64(sec), int64(nanos)), nil
	default:
		return date.Time{}, badHeader(op, b, "timestamp extension length is not 4, 8, or 12")
	}
}

// ReadString decodes a string value through the string codec.
func (r *Reader) ReadString() (string, error) {
	dec := r.opts.StringDecoder
	if dec == nil {
		dec = defaultStringDecoder{}
	}
	return dec.Decode(r.src, r.opts.Allocator)
}

// ReadIdentifier decodes a string value through the identifier-cache
// string codec variant when one is configured, else behaves like
// ReadString.
func (r *Reader) ReadIdentifier() (string, error) {
	dec := r.opts.IdentifierDecoder
	if dec == nil {
		dec = r.opts.StringDecoder
	}
	if dec == nil {
		dec = defaultStringDecoder{}
	}
	return dec.Decode(r.src, r.opts.Allocator)
}

// ReadArrayHeader reads an array header, returning the element count.
func (r *Reader) ReadArrayHeader() (int, error) {
	return readContainerHeader(r.src, "ReadArrayHeader", Array, fixarrayMin, fixarrayMax, fmtArray16, fmtArray32)
}

// ReadMapHeader reads a map header, returning the entry count.
func (r *Reader) ReadMapHeader() (int, error) {
	return readContainerHeader(r.src, "ReadMapHeader", Map, fixmapMin, fixmapMax, fmtMap16, fmtMap32)
}

func readContainerHeader(s *bufferedSource, op string, want Type, fixMin, fixMax, fmt16, fmt32 byte) (int, error) {
	b, err := s.readByte(op)
	if err != nil {
		return 0, err
	}
	switch {
	case b >= fixMin && b <= fixMax:
		return int(b & 0x0f), nil
	case b == fmt16:
		v, err := s.readUint16(op)
		if err != nil {
			return 0, err
		}
		return int(v), nil
	case b == fmt32:
		v, err := s.readLength32(op)
		if err != nil {
			return 0, err
		}
		return int(v), nil
	default:
		return 0, typeMismatch(op, want, formatType(b))
	}
}

// ReadStringHeader reads a string header, returning the byte length
// of the payload (which a caller handling strings manually would then
// read with ReadPayload).
func (r *Reader) ReadStringHeader() (int, error) {
	return readStringLen(r.src, "ReadStringHeader")
}

// ReadBinaryHeader reads a binary header, returning the payload
// length.
func (r *Reader) ReadBinaryHeader() (int, error) {
	const op = "ReadBinaryHeader"
	b, err := r.src.readByte(op)
	if err != nil {
		return 0, err
	}
	switch b {
	case fmtBin8:
		v, err := r.src.readByte(op)
		return int(v), err
	case fmtBin16:
		v, err := r.src.readUint16(op)
		return int(v), err
	case fmtBin32:
		v, err := r.src.readLength32(op)
		return int(v), err
	default:
		return 0, typeMismatch(op, Binary, formatType(b))
	}
}

// ReadExtensionHeader reads an extension header, returning the
// payload length and the application-defined type tag.
func (r *Reader) ReadExtensionHeader() (int, int8, error) {
	const op = "ReadExtensionHeader"
	b, err := r.src.readByte(op)
	if err != nil {
		return 0, 0, err
	}
	var length int
	switch b {
	case fmtFixExt1:
		length = 1
	case fmtFixExt2:
		length = 2
	case fmtFixExt4:
		length = 4
	case fmtFixExt8:
		length = 8
	case fmtFixExt16:
		length = 16
	case fmtExt8:
		v, err := r.src.readByte(op)
		if err != nil {
			return 0, 0, err
		}
		length = int(v)
	case fmtExt16:
		v, err := r.src.readUint16(op)
		if err != nil {
			return 0, 0, err
		}
		length = int(v)
	case fmtExt32:
		v, err := r.src.readLength32(op)
		if err != nil {
			return 0, 0, err
		}
		length = int(v)
	default:
		return 0, 0, typeMismatch(op, Extension, formatType(b))
	}
	typeByte, err := r.src.readByte(op)
	if err != nil {
		return 0, 0, err
	}
	return length, int8(typeByte), nil
}

// ReadPayload fills buf as much as possible: first draining any bytes
// sitting in the buffered source, then reading directly from the
// provider.
func (r *Reader) ReadPayload(buf []byte) (int, error) {
	return r.src.readPayload(buf)
}

// ReadPayloadTo copies n bytes to w.
func (r *Reader) ReadPayloadTo(w io.Writer, n int64) (int64, error) {
	return r.src.transferTo(w, n)
}

// SkipValue skips count consecutive values (default 1), including
// whatever nested arrays/maps they contain, without recursing: a
// counter is incremented by each container's element count and the
// loop runs until it drains to zero.
func (r *Reader) SkipValue(count int) error {
	const op = "SkipValue"
	if count < 1 {
		count = 1
	}
	n := count
	for n > 0 {
		b, err := r.src.readByte(op)
		if err != nil {
			return err
		}
		n--
		switch {
		case isFixint(b), b == fmtNil, b == fmtFalse, b == fmtTrue:
			// no payload
		case isFixstr(b):
			if err := r.src.skip(int64(fixstrLen(b))); err != nil {
				return err
			}
		case isFixarray(b):
			n += fixarrayLen(b)
		case isFixmap(b):
			n += 2 * fixmapLen(b)
		case b == fmtUint8, b == fmtInt8:
			if err := r.src.skip(1); err != nil {
				return err
			}
		case b == fmtUint16, b == fmtInt16:
			if err := r.src.skip(2); err != nil {
				return err
			}
		case b == fmtUint32, b == fmtInt32, b == fmtFloat32:
			if err := r.src.skip(4); err != nil {
				return err
			}
		case b == fmtUint64, b == fmtInt64, b == fmtFloat64:
			if err := r.src.skip(8); err != nil {
				return err
			}
		case b == fmtFixExt1:
			if err := r.src.skip(2); err != nil {
				return err
			}
		case b == fmtFixExt2:
			if err := r.src.skip(3); err != nil {
				return err
			}
		case b == fmtFixExt4:
			if err := r.src.skip(5); err != nil {
				return err
			}
		case b == fmtFixExt8:
			if err := r.src.skip(9); err != nil {
				return err
			}
		case b == fmtFixExt16:
			if err := r.src.skip(17); err != nil {
				return err
			}
		case b == fmtExt8:
			lb, err := r.src.readByte(op)
			if err != nil {
				return err
			}
			if err := r.src.skip(int64(lb) + 1); err != nil {
				return err
			}
		case b == fmtExt16:
			lv, err := r.src.readUint16(op)
			if err != nil {
				return err
			}
			if err := r.src.skip(int64(lv) + 1); err != nil {
				return err
			}
		case b == fmtExt32:
			lv, err := r.src.readLength32(op)
			if err != nil {
				return err
			}
			if err := r.src.skip(int64(lv) + 1); err != nil {
				return err
			}
		case b == fmtStr8:
			lb, err := r.src.readByte(op)
			if err != nil {
				return err
			}
			if err := r.src.skip(int64(lb)); err != nil {
				return err
			}
		case b == fmtStr16:
			lv, err := r.src.readUint16(op)
			if err != nil {
				return err
			}
			if err := r.src.skip(int64(lv)); err != nil {
				return err
			}
		case b == fmtStr32:
			lv, err := r.src.readLength32(op)
			if err != nil {
				return err
			}
			if err := r.src.skip(int64(lv)); err != nil {
				return err
			}
		case b == fmtBin8:
			lb, err := r.src.readByte(op)
			if err != nil {
				return err
			}
			if err := r.src.skip(int64(lb)); err != nil {
				return err
			}
		case b == fmtBin16:
			lv, err := r.src.readUint16(op)
			if err != nil {
				return err
			}
			if err := r.src.skip(int64(lv)); err != nil {
				return err
			}
		case b == fmtBin32:
			lv, err := r.src.readLength32(op)
			if err != nil {
				return err
			}
			if err := r.src.skip(int64(lv)); err != nil {
				return err
			}
		case b == fmtArray16:
			lv, err := r.src.readUint16(op)
			if err != nil {
				return err
			}
			n += int(lv)
		case b == fmtArray32:
			lv, err := r.src.readLength32(op)
			if err != nil {
				return err
			}
			n += int(lv)
		case b == fmtMap16:
			lv, err := r.src.readUint16(op)
			if err != nil {
				return err
			}
			n += 2 * int(lv)
		case b == fmtMap32:
			lv, err := r.src.readLength32(op)
			if err != nil {
				return err
			}
			n += 2 * int(lv)
		default:
			return badHeader(op, b, "reserved format byte")
		}
	}
	return nil
}
