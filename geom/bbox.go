// Package geom provides voxel-space geometry: half-open bounding boxes,
// intersection volumes, and a locality-preserving Z-order hash
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package geom

import "fmt"

// BBox is an axis-aligned half-open integer bounding box in voxel
// coordinates: [X1,X2) x [Y1,Y2) x [Z1,Z2).
type BBox struct {
	X1, Y1, Z1 int64
	X2, Y2, Z2 int64
}

func (b *BBox) Dx() int64 { return b.X2 - b.X1 }
func (b *BBox) Dy() int64 { return b.Y2 - b.Y1 }
func (b *BBox) Dz() int64 { return b.Z2 - b.Z1 }

// IsValid reports a non-degenerate box: x1<x2, y1<y2, z1<z2.
func (b *BBox) IsValid() bool { return b.X1 < b.X2 && b.Y1 < b.Y2 && b.Z1 < b.Z2 }

// NumVoxels is the voxel count of a valid box: the product of the three
// extents. For a degenerate box the product is not a voxel count (it is
// positive when two extents are negative).
func (b *BBox) NumVoxels() int64 { return b.Dx() * b.Dy() * b.Dz() }

// Center returns the center coordinates, (lo+hi)/2 per axis with Go integer
// division (truncated toward zero, so not the floor for negative sums).
func (b *BBox) Center() (x, y, z int64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2, (b.Z1 + b.Z2) / 2
}

func (b *BBox) String() string {
	return fmt.Sprintf("(%d,%d,%d)-(%d,%d,%d)", b.X1, b.Y1, b.Z1, b.X2, b.Y2, b.Z2)
}

// Array returns the flat wire form (x1,y1,z1,x2,y2,z2).
func (b *BBox) Array() [6]int64 { return [6]int64{b.X1, b.Y1, b.Z1, b.X2, b.Y2, b.Z2} }

func FromArray(a [6]int64) BBox {
	return BBox{X1: a[0], Y1: a[1], Z1: a[2], X2: a[3], Y2: a[4], Z2: a[5]}
}

// Intersection returns the overlap of two boxes; the zero BBox (degenerate)
// when they are disjoint.
func Intersection(a, b *BBox) (is BBox) {
	is = BBox{
		X1: max(a.X1, b.X1), Y1: max(a.Y1, b.Y1), Z1: max(a.Z1, b.Z1),
		X2: min(a.X2, b.X2), Y2: min(a.Y2, b.Y2), Z2: min(a.Z2, b.Z2),
	}
	if !is.IsValid() {
		is = BBox{}
	}
	return
}

// IntersectionVolume returns the number of voxels shared by two boxes.
func IntersectionVolume(a, b *BBox) int64 {
	is := Intersection(a, b)
	if !is.IsValid() {
		return 0
	}
	return is.NumVoxels()
}
