// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zero

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 31, 32, 33, 255, 256, 513} {
		b := make([]byte, n)
		for i := range b {
			b[i] = 1
		}

		Bytes(b)
		require.Equal(t, make([]byte, n), b, "n=%d", n)
	}
}
