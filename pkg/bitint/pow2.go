/*
Package bitint provides power-of-2 helpers used for hop and window
sizing in the analysis pipeline.

All operations are O(1), allocation-free, and safe to call from the
audio hot path.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size.
// Exact powers of 2 are preserved; zero and negative inputs return 1.
//
// The (size - 1) subtraction is what keeps exact powers of 2 from
// being doubled: bits.Len64(7) = 3 so 8 maps back to 8, whereas
// bits.Len64(8) = 4 would map 8 to 16.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len64(uint64(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2.
// Powers of 2 have exactly one bit set, so (n & (n-1)) == 0.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
