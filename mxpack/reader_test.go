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
	"testing"

	"github.com/mxpack/mxpack/date"
)

func newPipe(t *testing.T) (*Writer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewStreamWriter(&buf, DefaultWriterOptions())
	if err != nil {
		t.Fatalf("NewStreamWriter: %v", err)
	}
	return w, &buf
}

func newReaderFrom(t *testing.T, buf *bytes.Buffer) *Reader {
	t.Helper()
	r, err := NewStreamReader(buf, DefaultReaderOptions())
	if err != nil {
		t.Fatalf("NewStreamReader: %v", err)
	}
	return r
}

func TestRoundTripScalars(t *testing.T) {
	w, buf := newPipe(t)
	if err := w.WriteNil(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBool(true); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteInt64(-12345); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteUint64(999999999999); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFloat32(1.5); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFloat64(2.25); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteString("hello, world"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := newReaderFrom(t, buf)
	if err := r.ReadNil(); err != nil {
		t.Errorf("ReadNil: %v", err)
	}
	if v, err := r.ReadBool(); err != nil || v != true {
		t.Errorf("ReadBool = %v, %v", v, err)
	}
	if v, err := r.ReadInt64(); err != nil || v != -12345 {
		t.Errorf("ReadInt64 = %v, %v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 999999999999 {
		t.Errorf("ReadUint64 = %v, %v", v, err)
	}
	if v, err := r.ReadFloat32(); err != nil || v != 1.5 {
		t.Errorf("ReadFloat32 = %v, %v", v, err)
	}
	if v, err := r.ReadFloat64(); err != nil || v != 2.25 {
		t.Errorf("ReadFloat64 = %v, %v", v, err)
	}
	if v, err := r.ReadString(); err != nil || v != "hello, world" {
		t.Errorf("ReadString = %q, %v", v, err)
	}
}

func TestRoundTripArrayAndMap(t *testing.T) {
	w, buf := newPipe(t)
	if err := w.WriteArrayHeader(3); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteInt64(1); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteInt64(2); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteMapHeader(1); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteString("k"); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBool(false); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := newReaderFrom(t, buf)
	n, err := r.ReadArrayHeader()
	if err != nil || n != 3 {
		t.Fatalf("ReadArrayHeader = %d, %v", n, err)
	}
	if v, err := r.ReadInt64(); err != nil || v != 1 {
		t.Errorf("elem 0 = %v, %v", v, err)
	}
	if v, err := r.ReadInt64(); err != nil || v != 2 {
		t.Errorf("elem 1 = %v, %v", v, err)
	}
	mn, err := r.ReadMapHeader()
	if err != nil || mn != 1 {
		t.Fatalf("ReadMapHeader = %d, %v", mn, err)
	}
	if k, err := r.ReadString(); err != nil || k != "k" {
		t.Errorf("key = %q, %v", k, err)
	}
	if v, err := r.ReadBool(); err != nil || v != false {
		t.Errorf("value = %v, %v", v, err)
	}
}

func TestRoundTripTimestamp(t *testing.T) {
	cases := []date.Time{
		date.Unix(0, 0),
		date.Unix(1_700_000_000, 123000000),
		date.Unix(-1, 999999999),
	}
	for _, ts := range cases {
		w, buf := newPipe(t)
		if err := w.WriteTimestamp(ts); err != nil {
			t.Fatalf("WriteTimestamp(%v): %v", ts, err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		r := newReaderFrom(t, buf)
		got, err := r.ReadTimestamp()
		if err != nil {
			t.Fatalf("ReadTimestamp: %v", err)
		}
		if got.Unix() != ts.Unix() || got.Nanosecond() != ts.Nanosecond() {
			t.Errorf("timestamp round trip: got (%d,%d), want (%d,%d)",
				got.Unix(), got.Nanosecond(), ts.Unix(), ts.Nanosecond())
		}
	}
}

func TestRoundTripExtension(t *testing.T) {
	w, buf := newPipe(t)
	payload := []byte{1, 2, 3, 4, 5}
	if err := w.WriteExtensionHeader(len(payload), 7); err != nil {
		t.Fatal(err)
	}
	if err := w.WritePayload(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := newReaderFrom(t, buf)
	n, extType, err := r.ReadExtensionHeader()
	if err != nil || n != 5 || extType != 7 {
		t.Fatalf("ReadExtensionHeader = %d, %d, %v", n, extType, err)
	}
	got := make([]byte, n)
	if _, err := r.ReadPayload(got); err != nil {
		t.Fatalf("ReadPayload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = % x, want % x", got, payload)
	}
}

func TestReadOverflow(t *testing.T) {
	w, buf := newPipe(t)
	if err := w.WriteInt64(-1000); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	r := newReaderFrom(t, buf)
	if _, err := r.ReadUint8(); err == nil {
		t.Fatalf("expected overflow error reading negative value as uint8")
	}
}

func TestReadNarrowOverflow(t *testing.T) {
	w, buf := newPipe(t)
	if err := w.WriteInt64(1000); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	r := newReaderFrom(t, buf)
	if _, err := r.ReadInt8(); err == nil {
		t.Fatalf("expected overflow error reading 1000 as int8")
	}
}

func TestReadTypeMismatch(t *testing.T) {
	w, buf := newPipe(t)
	if err := w.WriteString("x"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	r := newReaderFrom(t, buf)
	if _, err := r.ReadBool(); err == nil {
		t.Fatalf("expected type mismatch reading a string as bool")
	}
}

func TestSkipValue(t *testing.T) {
	w, buf := newPipe(t)
	// value 0: nested array to be skipped
	if err := w.WriteArrayHeader(2); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteString("skip me"); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteMapHeader(1); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteInt64(1); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteInt64(2); err != nil {
		t.Fatal(err)
	}
	// value 1: the marker we expect to land on next
	if err := w.WriteString("marker"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := newReaderFrom(t, buf)
	if err := r.SkipValue(1); err != nil {
		t.Fatalf("SkipValue: %v", err)
	}
	v, err := r.ReadString()
	if err != nil || v != "marker" {
		t.Fatalf("after skip, ReadString = %q, %v", v, err)
	}
}

func TestUnexpectedEnd(t *testing.T) {
	r := newReaderFrom(t, bytes.NewBuffer(nil))
	if _, err := r.ReadBool(); err == nil {
		t.Fatalf("expected UnexpectedEnd reading from empty input")
	}
}
