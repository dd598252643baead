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

//go:build linux

package mxpack

import (
	"os"

	"golang.org/x/sys/unix"
)

// trySendfile attempts a zero-copy file-to-file transfer of length
// bytes from src to dst using the sendfile(2) syscall. ok is false if
// the fast path could not be used at all (caller should fall back to
// a buffered copy); when ok is true, n/err are the final result.
func trySendfile(dst, src *os.File, length int64) (n int64, ok bool, err error) {
	srcFd := int(src.Fd())
	dstFd := int(dst.Fd())
	var total int64
	for total < length {
		remaining := int(length - total)
		written, serr := unix.Sendfile(dstFd, srcFd, nil, remaining)
		if written > 0 {
			total += int64(written)
		}
		if serr != nil {
			if serr == unix.EINTR {
				continue
			}
			if total == 0 {
				// Let the caller fall back (e.g. src is not
				// sendfile-capable, such as a pipe on some kernels).
				return 0, false, nil
			}
			return total, true, ioErr("TransferTo", serr)
		}
		if written == 0 {
			break
		}
	}
	if total < length {
		return total, true, unexpectedEnd("TransferTo", int(length), int(total))
	}
	return total, true, nil
}
