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
	"errors"
	"testing"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		sentinel error
	}{
		{"UnexpectedEnd", unexpectedEnd("op", 4, 1), ErrUnexpectedEnd},
		{"TypeMismatch", typeMismatch("op", String, Integer), ErrTypeMismatch},
		{"Overflow", overflow("op", Integer), ErrTypeMismatch},
		{"InvalidMessageHeader", badHeader("op", 0xc1, "reserved"), ErrInvalidMessageHeader},
		{"InvalidStringEncoding", badStringEncoding("op", 0, 2), ErrInvalidStringEncoding},
		{"SizeLimitExceeded", sizeLimit("op", 1<<40, 1<<32), ErrSizeLimitExceeded},
		{"IO", ioErr("op", errors.New("boom")), ErrIO},
		{"NonBlockingChannel", nonBlocking("op"), ErrNonBlockingChannel},
		{"ProgrammingError", programmingError("op", "bad"), ErrProgrammingError},
	}
	for _, c := range cases {
		if !errors.Is(c.err, c.sentinel) {
			t.Errorf("%s: errors.Is(err, sentinel) = false, want true", c.name)
		}
	}
}

func TestErrorsIsDoesNotCrossKinds(t *testing.T) {
	err := unexpectedEnd("op", 4, 1)
	if errors.Is(err, ErrTypeMismatch) {
		t.Errorf("UnexpectedEndError must not match ErrTypeMismatch")
	}
	if errors.Is(err, ErrIO) {
		t.Errorf("UnexpectedEndError must not match ErrIO")
	}
}

func TestIOErrorUnwraps(t *testing.T) {
	cause := errors.New("underlying failure")
	err := ioErr("op", cause)
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the wrapped cause")
	}
}
