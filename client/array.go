// Package client implements the per-process front-end of the volume
// broker: request sizing and dispatch, result correlation, and the
// scoped-ownership array wrapping the shared result buffer
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package client

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/P11011/Decoupled-CloudVolume/cmn/cos"
	"github.com/P11011/Decoupled-CloudVolume/shm"
	"github.com/pkg/errors"
)

var ErrBadShape = errors.New("client: shape does not match element count")

// Array is an n-dimensional, column-major view over a result buffer.
//
// Exactly one Array per shared buffer is the owner: the instance handed
// back by Read. Releasing the owner closes the mapping and unlinks the
// buffer name - once, idempotently. Derivative views obtained via View or
// Reshape share the mapping, never own it, and must not outlive the owner.
// Arrays from the small-request bypass are backed by private memory and
// Release is a no-op for them.
type Array struct {
	buf      *shm.Buffer // nil for bypass results
	data     []byte
	shape    [4]int64
	dtype    cos.Dtype
	owner    bool
	released atomic.Bool
}

func newOwned(buf *shm.Buffer, shape [4]int64, dtype cos.Dtype) *Array {
	return &Array{buf: buf, data: buf.Bytes(), shape: shape, dtype: dtype, owner: true}
}

func newLocal(data []byte, shape [4]int64, dtype cos.Dtype) *Array {
	return &Array{data: data, shape: shape, dtype: dtype}
}

// Release frees the underlying shared buffer: unmap, then unlink. Only the
// owner does anything here; releasing a view or a bypass result is a no-op.
func (a *Array) Release() error {
	if !a.owner || a.buf == nil || !a.released.CompareAndSwap(false, true) {
		return nil
	}
	cerr := a.buf.Close()
	if uerr := a.buf.Unlink(); uerr != nil {
		return uerr
	}
	return cerr
}

func (a *Array) Shape() [4]int64 { return a.shape }
func (a *Array) Dtype() cos.Dtype { return a.dtype }
func (a *Array) Len() int64 {
	return a.shape[0] * a.shape[1] * a.shape[2] * a.shape[3]
}

// Bytes exposes the raw column-major element data.
func (a *Array) Bytes() []byte { return a.data }

// At reads the element at (x, y, z, c) as its unsigned bit pattern.
func (a *Array) At(x, y, z, c int64) uint64 {
	var (
		dx, dy, dz = a.shape[0], a.shape[1], a.shape[2]
		idx        = x + dx*(y+dy*(z+dz*c))
		esize      = int64(a.dtype.Size())
		b          = a.data[idx*esize:]
	)
	switch esize {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// View returns a non-owning alias of the full array.
func (a *Array) View() *Array {
	return &Array{buf: a.buf, data: a.data, shape: a.shape, dtype: a.dtype}
}

// Reshape returns a non-owning view with a different shape over the same
// elements.
func (a *Array) Reshape(shape [4]int64) (*Array, error) {
	if shape[0]*shape[1]*shape[2]*shape[3] != a.Len() {
		return nil, errors.Wrapf(ErrBadShape, "%v -> %v", a.shape, shape)
	}
	v := a.View()
	v.shape = shape
	return v, nil
}
