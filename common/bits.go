// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, the highest bit encoding of register fields.
package common

import "math/bits"

// Log2Floor returns the index of the highest bit set in n, or -1 when n is
// zero.
//
// Several haptics registers encode a requested count or frequency as the
// position of its most significant bit instead of the value itself. 32 is
// stored as 5, 33 through 63 are stored as 5 too.
func Log2Floor(n uint32) int {
	return bits.Len32(n) - 1
}

// Clamp returns v limited to the closed range [lo, hi].
func Clamp[T ~int | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
