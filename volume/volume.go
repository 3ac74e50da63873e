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
	"github.com/pkg/errors"
)

type (
	// Metadata mirrors what the volume library reports about a dataset.
	Metadata struct {
		DataType    cos.Dtype
		NumChannels int64
		Background  int64 // fill value for missing regions
		FillMissing bool  // absent chunks read as background instead of erroring
	}

	// Volume is the read surface of the underlying store. ReadInto writes
	// the decompressed voxels of bbox directly into buf - column-major
	// (Fortran) order, shape (dx, dy, dz, channels) - touching only the
	// voxels it actually covers. Callers that need a defined value in the
	// gaps pre-fill buf with Metadata.Background.
	//
	// This is the Go rendition of the library's rebindable render buffer:
	// instead of repointing an output pointer and then indexing, the
	// destination is handed to every read explicitly.
	Volume interface {
		Meta() Metadata
		ReadInto(buf []byte, bbox geom.BBox) error
	}
)

var (
	ErrMissingChunk = errors.New("volume: chunk not present")
	ErrShortBuffer  = errors.New("volume: destination buffer too small")
)

// BufSize returns the byte size of a bbox read for the given metadata.
func BufSize(meta *Metadata, bbox *geom.BBox) int64 {
	return bbox.NumVoxels() * meta.NumChannels * int64(meta.DataType.Size())
}
