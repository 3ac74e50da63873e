// Package volume defines the contract with the underlying chunk-compressed
// volumetric store and provides an in-memory implementation of it for
// local use and testing
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package volume

import (
	"github.com/P11011/Decoupled-CloudVolume/cmn/cos"
	"github.com/P11011/Decoupled-CloudVolume/geom"
)

// Demo dataset extents. Every process that calls NewDemo gets a bit-identical
// volume, so a demo client and its workers can validate voxel values against
// each other without sharing state.
var demoBox = geom.BBox{X1: 0, Y1: 0, Z1: 0, X2: 256, Y2: 256, Z2: 32}

// DemoValue is the deterministic voxel function of the demo dataset.
func DemoValue(x, y, z, _ int64) uint64 {
	return uint64(x*73856093^y*19349663^z*83492791) & 0xff
}

// NewDemo builds the synthetic demo volume: uint8, single channel,
// background 7, fill-missing on, 64x64x16 chunks seeded over demoBox.
func NewDemo(parallel int) *Mem {
	v := NewMem(Metadata{
		DataType:    cos.DtypeUint8,
		NumChannels: 1,
		Background:  7,
		FillMissing: true,
	}, [3]int64{64, 64, 16}, parallel)
	v.Generate(demoBox, DemoValue)
	return v
}

// DemoBox returns the seeded extent of the demo dataset.
func DemoBox() geom.BBox { return demoBox }
