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
	"os"
)

// Source is a pluggable byte producer. Unlike the reference contract
// (which signals end-of-input with a -1 return), Read follows Go's own
// io.Reader convention and reports end-of-input as io.EOF, since that
// is the idiom every other part of this package (and the teacher's
// own bufio.Reader-based code) already follows.
type Source interface {
	// Read reads into buf, returning the number of bytes read. minHint
	// is an advisory lower bound on how much the caller would like;
	// implementations may ignore it. io.EOF with n == 0 signals the
	// source is exhausted.
	Read(buf []byte, minHint int) (int, error)
	// Skip advances n bytes, reusing work to drain sources that lack
	// a native seek/skip.
	Skip(n int64, work []byte) error
	// TransferTo copies length bytes to w, using work as scratch space
	// for sources with no zero-copy path.
	TransferTo(w io.Writer, length int64, work []byte) (int64, error)
	Close() error
}

// StreamSource adapts an io.Reader.
type StreamSource struct {
	r io.Reader
}

// NewStreamSource wraps r as a Source.
func NewStreamSource(r io.Reader) *StreamSource { return &StreamSource{r: r} }

func (s *StreamSource) Read(buf []byte, minHint int) (int, error) {
	return s.r.Read(buf)
}

func (s *StreamSource) Skip(n int64, work []byte) error {
	return skipViaRead(s, n, work)
}

func (s *StreamSource) TransferTo(w io.Writer, length int64, work []byte) (int64, error) {
	return transferViaCopy(s, w, length, work)
}

func (s *StreamSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ChannelSource adapts an io.Reader that may be backed by an *os.File,
// enabling a zero-copy sendfile-based TransferTo when the destination
// is also a regular file.
type ChannelSource struct {
	r io.Reader
}

// NewChannelSource wraps r as a channel-backed Source.
func NewChannelSource(r io.Reader) *ChannelSource { return &ChannelSource{r: r} }

func (s *ChannelSource) Read(buf []byte, minHint int) (int, error) {
	return s.r.Read(buf)
}

func (s *ChannelSource) Skip(n int64, work []byte) error {
	return skipViaRead(s, n, work)
}

func (s *ChannelSource) TransferTo(w io.Writer, length int64, work []byte) (int64, error) {
	if srcFile, ok := s.r.(*os.File); ok {
		if dstFile, ok := w.(*os.File); ok {
			n, ok, err := trySendfile(dstFile, srcFile, length)
			if ok {
				return n, err
			}
		}
	}
	return transferViaCopy(s, w, length, work)
}

func (s *ChannelSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// InMemorySource reads from a leased buffer, draining it once and
// reporting io.EOF thereafter.
type InMemorySource struct {
	leased *LeasedBytes
	data   []byte
	pos    int
}

// NewInMemorySource constructs a Source that reads data out of leased
// (which it owns and releases on Close).
func NewInMemorySource(leased *LeasedBytes, data []byte) *InMemorySource {
	return &InMemorySource{leased: leased, data: data}
}

func (s *InMemorySource) Read(buf []byte, minHint int) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(buf, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *InMemorySource) Skip(n int64, work []byte) error {
	remaining := int64(len(s.data) - s.pos)
	if n > remaining {
		return unexpectedEnd("Skip", int(n), int(remaining))
	}
	s.pos += int(n)
	return nil
}

func (s *InMemorySource) TransferTo(w io.Writer, length int64, work []byte) (int64, error) {
	return transferViaCopy(s, w, length, work)
}

func (s *InMemorySource) Close() error {
	if s.leased != nil {
		s.leased.Release()
		s.leased = nil
	}
	return nil
}

// EmptySource always reports end-of-input immediately.
type EmptySource struct{}

func (EmptySource) Read(buf []byte, minHint int) (int, error) { return 0, io.EOF }

func (EmptySource) Skip(n int64, work []byte) error {
	if n == 0 {
		return nil
	}
	return unexpectedEnd("Skip", int(n), 0)
}

func (EmptySource) TransferTo(w io.Writer, length int64, work []byte) (int64, error) {
	if length == 0 {
		return 0, nil
	}
	return 0, unexpectedEnd("TransferTo", int(length), 0)
}
func (EmptySource) Close() error { return nil }

// skipViaRead drains and discards n bytes through work, for sources
// with no native seek.
func skipViaRead(s Source, n int64, work []byte) error {
	for n > 0 {
		want := int64(len(work))
		if want > n {
			want = n
		}
		got, err := s.Read(work[:want], int(want))
		n -= int64(got)
		if err != nil {
			if err == io.EOF && n == 0 {
				return nil
			}
			if err == io.EOF {
				return unexpectedEnd("Skip", int(n), 0)
			}
			return ioErr("Skip", err)
		}
	}
	return nil
}

// transferViaCopy copies length bytes from s to w using work as the
// intermediate buffer, looping until length bytes have moved.
func transferViaCopy(s Source, w io.Writer, length int64, work []byte) (int64, error) {
	var total int64
	for total < length {
		want := int64(len(work))
		if remaining := length - total; want > remaining {
			want = remaining
		}
		n, err := s.Read(work[:want], int(want))
		if n > 0 {
			if _, werr := w.Write(work[:n]); werr != nil {
				return total, ioErr("TransferTo", werr)
			}
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				if total < length {
					return total, unexpectedEnd("TransferTo", int(length), int(total))
				}
				return total, nil
			}
			return total, ioErr("TransferTo", err)
		}
	}
	return total, nil
}
