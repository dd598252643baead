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

func TestFormatTypeRanges(t *testing.T) {
	cases := []struct {
		b    byte
		want Type
	}{
		{0x00, Integer},
		{0x7f, Integer},
		{0x80, Map},
		{0x8f, Map},
		{0x90, Array},
		{0x9f, Array},
		{0xa0, String},
		{0xbf, String},
		{0xc0, Nil},
		{0xc1, Invalid},
		{0xc2, Bool},
		{0xc3, Bool},
		{0xc4, Binary},
		{0xc6, Binary},
		{0xc7, Extension},
		{0xc9, Extension},
		{0xca, Float},
		{0xcb, Float},
		{0xcc, Integer},
		{0xcf, Integer},
		{0xd0, Integer},
		{0xd3, Integer},
		{0xd4, Extension},
		{0xd8, Extension},
		{0xd9, String},
		{0xdb, String},
		{0xdc, Array},
		{0xdd, Array},
		{0xde, Map},
		{0xdf, Map},
		{0xe0, Integer},
		{0xff, Integer},
	}
	for _, c := range cases {
		if got := formatType(c.b); got != c.want {
			t.Errorf("formatType(0x%02x) = %v, want %v", c.b, got, c.want)
		}
	}
}

func TestFixPredicatesAndLengths(t *testing.T) {
	if !isFixstr(0xa5) || fixstrLen(0xa5) != 5 {
		t.Errorf("fixstr 0xa5 should have length 5")
	}
	if !isFixarray(0x93) || fixarrayLen(0x93) != 3 {
		t.Errorf("fixarray 0x93 should have length 3")
	}
	if !isFixmap(0x82) || fixmapLen(0x82) != 2 {
		t.Errorf("fixmap 0x82 should have length 2")
	}
	if isFixstr(0xc0) || isFixarray(0xc0) || isFixmap(0xc0) {
		t.Errorf("0xc0 (nil) should not match any fix predicate")
	}
	if !isFixint(0x00) || !isFixint(0x7f) || !isFixint(0xe0) || !isFixint(0xff) {
		t.Errorf("fixint boundaries misclassified")
	}
	if isFixint(0x80) || isFixint(0xdf) {
		t.Errorf("non-fixint bytes misclassified as fixint")
	}
}

func TestTypeString(t *testing.T) {
	cases := map[Type]string{
		Nil: "nil", Bool: "bool", Integer: "integer", Float: "float",
		String: "string", Binary: "binary", Array: "array", Map: "map",
		Extension: "extension", Invalid: "invalid",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
