// Package fill implements the thread-parallel background-fill primitive
// used to paint shared buffers with a background value before the volume
// library writes the covered voxels over it
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package fill

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/P11011/Decoupled-CloudVolume/cmn/cos"
)

// minChunk keeps tiny buffers on the calling goroutine; below this size the
// spawn overhead dominates the memory writes.
const minChunk = 256 * cos.KiB

// FillU8 fills buf with value using up to threads goroutines.
func FillU8(buf []byte, value byte, threads int) {
	n := len(buf)
	if threads <= 1 || n < 2*minChunk {
		memset(buf, value)
		return
	}
	if max := n / minChunk; threads > max {
		threads = max
	}
	var (
		wg    sync.WaitGroup
		chunk = (n + threads - 1) / threads
	)
	for off := 0; off < n; off += chunk {
		end := min(off+chunk, n)
		wg.Add(1)
		go func(part []byte) {
			memset(part, value)
			wg.Done()
		}(buf[off:end])
	}
	wg.Wait()
}

// FillU64 fills words with value using up to threads goroutines.
func FillU64(words []uint64, value uint64, threads int) {
	n := len(words)
	if threads <= 1 || n*8 < 2*minChunk {
		memset64(words, value)
		return
	}
	if max := n * 8 / minChunk; threads > max {
		threads = max
	}
	var (
		wg    sync.WaitGroup
		chunk = (n + threads - 1) / threads
	)
	for off := 0; off < n; off += chunk {
		end := min(off+chunk, n)
		wg.Add(1)
		go func(part []uint64) {
			memset64(part, value)
			wg.Done()
		}(words[off:end])
	}
	wg.Wait()
}

// Fill paints buf, interpreted as elements of dtype, with the integer
// background value. Dispatch:
//
//	value == 0            -> byte fill (width-agnostic)
//	8-byte integral dtype -> word fill (needs 8-byte alignment, len%8 == 0)
//	1-byte dtype          -> byte fill of the low 8 bits
//	anything else         -> scalar pattern fill, single-threaded
func Fill(buf []byte, dtype cos.Dtype, value int64, threads int) {
	if len(buf) == 0 {
		return
	}
	if value == 0 {
		FillU8(buf, 0, threads)
		return
	}
	esize := dtype.Size()
	if esize == 8 && dtype.Integral() && aligned8(buf) && len(buf)%8 == 0 {
		words := unsafe.Slice((*uint64)(unsafe.Pointer(&buf[0])), len(buf)/8)
		FillU64(words, uint64(value), threads)
		return
	}
	if esize == 1 {
		FillU8(buf, byte(value&0xff), threads)
		return
	}
	fillScalar(buf, esize, uint64(value))
}

func aligned8(buf []byte) bool {
	return uintptr(unsafe.Pointer(&buf[0]))&7 == 0
}

// fillScalar replicates one little-endian element pattern across the buffer
// by doubling copies.
func fillScalar(buf []byte, esize int, value uint64) {
	if esize <= 0 || len(buf) < esize {
		return
	}
	var elem [8]byte
	binary.LittleEndian.PutUint64(elem[:], value)
	n := copy(buf, elem[:esize])
	for n < len(buf) {
		n += copy(buf[n:], buf[:n])
	}
}

func memset(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}

func memset64(p []uint64, v uint64) {
	for i := range p {
		p[i] = v
	}
}
