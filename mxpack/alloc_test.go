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

import "testing"

func TestClassSize(t *testing.T) {
	cases := []struct{ min, want int }{
		{0, 16}, {1, 16}, {16, 16}, {17, 32}, {32, 32}, {33, 64}, {1000, 1024},
	}
	for _, c := range cases {
		if got := classSize(c.min); got != c.want {
			t.Errorf("classSize(%d) = %d, want %d", c.min, got, c.want)
		}
	}
}

func TestPooledAllocatorReusesBuffers(t *testing.T) {
	alloc := NewPooledAllocator(DefaultAllocatorOptions())
	defer alloc.Close()

	lease1, err := alloc.LeaseBytes(100)
	if err != nil {
		t.Fatalf("LeaseBytes: %v", err)
	}
	buf1 := lease1.Bytes()
	lease1.Release()

	lease2, err := alloc.LeaseBytes(100)
	if err != nil {
		t.Fatalf("LeaseBytes: %v", err)
	}
	buf2 := lease2.Bytes()
	defer lease2.Release()

	if &buf1[0] != &buf2[0] {
		t.Errorf("expected released buffer to be reused from the pool")
	}
}

func TestAllocatorRejectsOversizedRequest(t *testing.T) {
	opts := DefaultAllocatorOptions()
	opts.MaxByteBufferCapacity = 64
	alloc := NewPooledAllocator(opts)
	defer alloc.Close()

	if _, err := alloc.LeaseBytes(128); err == nil {
		t.Fatalf("expected SizeLimitExceeded for a request above MaxByteBufferCapacity")
	}
}

func TestPooledAllocatorCharsReuseSeparateFromBytes(t *testing.T) {
	alloc := NewPooledAllocator(DefaultAllocatorOptions())
	defer alloc.Close()

	charLease, err := alloc.LeaseChars(64)
	if err != nil {
		t.Fatalf("LeaseChars: %v", err)
	}
	charBuf := charLease.Bytes()
	charLease.Release()

	// A byte-buffer lease of the same size class must not be handed
	// the buffer just released by the char pool: the two pools are
	// keyed independently.
	byteLease, err := alloc.LeaseBytes(64)
	if err != nil {
		t.Fatalf("LeaseBytes: %v", err)
	}
	defer byteLease.Release()
	if &byteLease.Bytes()[0] == &charBuf[0] {
		t.Errorf("byte and char pools must not share buffers")
	}

	charLease2, err := alloc.LeaseChars(64)
	if err != nil {
		t.Fatalf("LeaseChars: %v", err)
	}
	defer charLease2.Release()
	if &charLease2.Bytes()[0] != &charBuf[0] {
		t.Errorf("expected released char buffer to be reused from the char pool")
	}
}

func TestUnpooledAllocatorNeverReuses(t *testing.T) {
	alloc := NewUnpooledAllocator(DefaultAllocatorOptions())
	defer alloc.Close()

	lease1, err := alloc.LeaseBytes(100)
	if err != nil {
		t.Fatalf("LeaseBytes: %v", err)
	}
	buf1 := lease1.Bytes()
	lease1.Release()

	lease2, err := alloc.LeaseBytes(100)
	if err != nil {
		t.Fatalf("LeaseBytes: %v", err)
	}
	buf2 := lease2.Bytes()
	defer lease2.Release()

	if &buf1[0] == &buf2[0] {
		t.Errorf("unpooled allocator should never hand back the same backing array")
	}
}
