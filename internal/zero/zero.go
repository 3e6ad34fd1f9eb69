// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zero clears secrets held in memory.
package zero

// Bytes sets all bytes in the passed slice to zero.  This is used to
// explicitly clear passwords from memory once they have been handed off.
func Bytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
