// Package geom provides voxel-space geometry: half-open bounding boxes,
// intersection volumes, and a locality-preserving Z-order hash
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package geom

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
)

// mortonShift coarsens coordinates before interleaving so that requests
// within a 32-voxel neighborhood map to the same code.
const mortonShift = 5

// Morton3D interleaves the low 21 bits of each coordinate into a 63-bit
// Z-order code. Nearby coordinates yield nearby codes.
func Morton3D(x, y, z uint64) (code uint64) {
	return spread(x) | spread(y)<<1 | spread(z)<<2
}

// spread distributes the low 21 bits of v so that two zero bits separate
// consecutive input bits (the classic magic-number dilation).
func spread(v uint64) uint64 {
	v &= 0x1fffff
	v = (v | v<<32) & 0x1f00000000ffff
	v = (v | v<<16) & 0x1f0000ff0000ff
	v = (v | v<<8) & 0x100f00f00f00f00f
	v = (v | v<<4) & 0x10c30c30c30c30c3
	v = (v | v<<2) & 0x1249249249249249
	return v
}

// MortonHash maps a request box to a stable scalar for fallback routing:
// the box center, coarsened by 2^mortonShift per axis, Z-order interleaved,
// and finally xxhash-mixed to spread the code across worker slots.
func MortonHash(b *BBox) uint64 {
	x, y, z := b.Center()
	code := Morton3D(uint64(x)>>mortonShift, uint64(y)>>mortonShift, uint64(z)>>mortonShift)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], code)
	return xxhash.Checksum64(buf[:])
}
