// Package volume defines the contract with the underlying chunk-compressed
// volumetric store and provides an in-memory implementation of it for
// local use and testing
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package volume

import (
	"encoding/binary"
	"runtime"

	"github.com/P11011/Decoupled-CloudVolume/cmn/debug"
	"github.com/P11011/Decoupled-CloudVolume/geom"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type (
	chunkKey [3]int64

	// Mem is a chunked in-memory Volume. Chunks are dense column-major
	// blocks of chunkDims voxels times NumChannels; absent chunks are
	// "missing" in the store's sense. The chunk map is immutable while
	// reads are in flight - seed first, then serve.
	Mem struct {
		meta      Metadata
		chunkDims [3]int64
		chunks    map[chunkKey][]byte
		parallel  int // max concurrent chunk copies per read
	}
)

// interface guard
var _ Volume = (*Mem)(nil)

// NewMem returns an empty in-memory volume.
func NewMem(meta Metadata, chunkDims [3]int64, parallel int) *Mem {
	debug.Assert(meta.DataType.IsValid(), meta.DataType)
	debug.Assert(chunkDims[0] > 0 && chunkDims[1] > 0 && chunkDims[2] > 0)
	if meta.NumChannels <= 0 {
		meta.NumChannels = 1
	}
	if parallel <= 0 {
		parallel = runtime.GOMAXPROCS(0)
	}
	return &Mem{
		meta:      meta,
		chunkDims: chunkDims,
		chunks:    make(map[chunkKey][]byte, 64),
		parallel:  parallel,
	}
}

func (v *Mem) Meta() Metadata { return v.meta }

// NumChunks returns the number of materialized chunks.
func (v *Mem) NumChunks() int { return len(v.chunks) }

// Generate seeds every voxel of bbox from fn; chunks are materialized on
// demand. Not safe concurrently with reads.
func (v *Mem) Generate(bbox geom.BBox, fn func(x, y, z, c int64) uint64) {
	for c := int64(0); c < v.meta.NumChannels; c++ {
		for z := bbox.Z1; z < bbox.Z2; z++ {
			for y := bbox.Y1; y < bbox.Y2; y++ {
				for x := bbox.X1; x < bbox.X2; x++ {
					v.Set(x, y, z, c, fn(x, y, z, c))
				}
			}
		}
	}
}

// Set writes one voxel, materializing its chunk (background-filled) first.
func (v *Mem) Set(x, y, z, c int64, val uint64) {
	key := chunkKey{floorDiv(x, v.chunkDims[0]), floorDiv(y, v.chunkDims[1]), floorDiv(z, v.chunkDims[2])}
	data, ok := v.chunks[key]
	if !ok {
		data = v.newChunk()
		v.chunks[key] = data
	}
	var (
		esize = v.meta.DataType.Size()
		lx    = x - key[0]*v.chunkDims[0]
		ly    = y - key[1]*v.chunkDims[1]
		lz    = z - key[2]*v.chunkDims[2]
		idx   = v.chunkIndex(lx, ly, lz, c)
	)
	putElem(data[idx*int64(esize):], esize, val)
}

// Get reads one voxel; ok is false when the chunk is missing.
func (v *Mem) Get(x, y, z, c int64) (val uint64, ok bool) {
	key := chunkKey{floorDiv(x, v.chunkDims[0]), floorDiv(y, v.chunkDims[1]), floorDiv(z, v.chunkDims[2])}
	data, ok := v.chunks[key]
	if !ok {
		return 0, false
	}
	var (
		esize = v.meta.DataType.Size()
		lx    = x - key[0]*v.chunkDims[0]
		ly    = y - key[1]*v.chunkDims[1]
		lz    = z - key[2]*v.chunkDims[2]
		idx   = v.chunkIndex(lx, ly, lz, c)
	)
	return getElem(data[idx*int64(esize):], esize), true
}

// ReadInto copies the bbox voxels of every present chunk into buf; missing
// chunks are skipped when FillMissing is set and fail the read otherwise.
// Overlapping chunks are copied concurrently, bounded by the parallel hint -
// each chunk owns a disjoint slice of the destination.
func (v *Mem) ReadInto(buf []byte, bbox geom.BBox) error {
	if !bbox.IsValid() {
		return errors.Errorf("volume: invalid bbox %s", bbox.String())
	}
	if int64(len(buf)) < BufSize(&v.meta, &bbox) {
		return errors.Wrapf(ErrShortBuffer, "%d < %d", len(buf), BufSize(&v.meta, &bbox))
	}
	var (
		g       errgroup.Group
		missing error
		cd      = v.chunkDims
	)
	g.SetLimit(v.parallel)
	for cz := floorDiv(bbox.Z1, cd[2]); cz*cd[2] < bbox.Z2; cz++ {
		for cy := floorDiv(bbox.Y1, cd[1]); cy*cd[1] < bbox.Y2; cy++ {
			for cx := floorDiv(bbox.X1, cd[0]); cx*cd[0] < bbox.X2; cx++ {
				key := chunkKey{cx, cy, cz}
				data, ok := v.chunks[key]
				if !ok {
					if !v.meta.FillMissing {
						missing = errors.Wrapf(ErrMissingChunk, "(%d,%d,%d)", cx, cy, cz)
					}
					continue
				}
				g.Go(func() error {
					v.copyChunk(buf, &bbox, key, data)
					return nil
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return missing
}

// copyChunk copies the intersection of the request box and one chunk,
// x-run by x-run (both sides are column-major, so x-runs are contiguous).
func (v *Mem) copyChunk(buf []byte, bbox *geom.BBox, key chunkKey, data []byte) {
	var (
		esize = int64(v.meta.DataType.Size())
		cd    = v.chunkDims
		cbox  = geom.BBox{
			X1: key[0] * cd[0], Y1: key[1] * cd[1], Z1: key[2] * cd[2],
			X2: (key[0] + 1) * cd[0], Y2: (key[1] + 1) * cd[1], Z2: (key[2] + 1) * cd[2],
		}
		is = geom.Intersection(bbox, &cbox)
	)
	if !is.IsValid() {
		return
	}
	var (
		dx, dy, dz = bbox.Dx(), bbox.Dy(), bbox.Dz()
		run        = (is.X2 - is.X1) * esize
	)
	for c := int64(0); c < v.meta.NumChannels; c++ {
		for z := is.Z1; z < is.Z2; z++ {
			for y := is.Y1; y < is.Y2; y++ {
				srcIdx := v.chunkIndex(is.X1-cbox.X1, y-cbox.Y1, z-cbox.Z1, c)
				dstIdx := (is.X1 - bbox.X1) + dx*((y-bbox.Y1)+dy*((z-bbox.Z1)+dz*c))
				copy(buf[dstIdx*esize:dstIdx*esize+run], data[srcIdx*esize:srcIdx*esize+run])
			}
		}
	}
}

func (v *Mem) newChunk() []byte {
	var (
		esize  = v.meta.DataType.Size()
		nelems = v.chunkDims[0] * v.chunkDims[1] * v.chunkDims[2] * v.meta.NumChannels
		data   = make([]byte, nelems*int64(esize))
	)
	if v.meta.Background != 0 {
		var elem [8]byte
		binary.LittleEndian.PutUint64(elem[:], uint64(v.meta.Background))
		n := copy(data, elem[:esize])
		for n < len(data) {
			n += copy(data[n:], data[:n])
		}
	}
	return data
}

// chunkIndex is the column-major element index within a chunk.
func (v *Mem) chunkIndex(x, y, z, c int64) int64 {
	cd := v.chunkDims
	return x + cd[0]*(y+cd[1]*(z+cd[2]*c))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func putElem(b []byte, esize int, v uint64) {
	switch esize {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func getElem(b []byte, esize int) uint64 {
	switch esize {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}
