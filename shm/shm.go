// Package shm provides named, process-shared memory buffers with POSIX
// semantics: create-or-attach by name, byte-addressable mapping, explicit
// unlink by the final owner
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package shm

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// shmDir is where the kernel exposes the POSIX shared-memory namespace.
const shmDir = "/dev/shm"

var (
	ErrBadName = errors.New("shm: invalid buffer name")
	ErrClosed  = errors.New("shm: buffer already closed")
)

// Buffer is one mapped shared-memory region. Close detaches the mapping;
// Unlink removes the name from the OS namespace. The two are independent:
// a worker closes without unlinking, the final result owner does both.
type Buffer struct {
	name   string
	data   []byte
	closed atomic.Bool
}

func path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return "", errors.Wrap(ErrBadName, name)
	}
	return filepath.Join(shmDir, name), nil
}

// Create allocates a new named region of exactly size bytes. The name must
// not already exist.
func Create(name string, size int64) (*Buffer, error) {
	p, err := path(name)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.Errorf("shm: invalid size %d for %q", size, name)
	}
	fd, err := unix.Open(p, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create shm %q", name)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		unix.Unlink(p)
		return nil, errors.Wrapf(err, "failed to size shm %q to %d", name, size)
	}
	return mmap(fd, p, name, size)
}

// Attach maps an existing named region at its current size.
func Attach(name string) (*Buffer, error) {
	p, err := path(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(p, unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to attach shm %q", name)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "failed to stat shm %q", name)
	}
	return mmap(fd, p, name, st.Size)
}

func mmap(fd int, p, name string, size int64) (*Buffer, error) {
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd) // the mapping outlives the descriptor
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map shm %q (%d bytes)", name, size)
	}
	return &Buffer{name: name, data: data}, nil
}

func (b *Buffer) Name() string { return b.name }
func (b *Buffer) Size() int64  { return int64(len(b.data)) }

// Bytes is the live mapping; it must not be used after Close.
func (b *Buffer) Bytes() []byte { return b.data }

// Close unmaps the region. Idempotent.
func (b *Buffer) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	data := b.data
	b.data = nil
	if err := unix.Munmap(data); err != nil {
		return errors.Wrapf(err, "failed to unmap shm %q", b.name)
	}
	return nil
}

// Unlink removes the buffer's name from the shared-memory namespace. The
// mapping (if still open, here or in another process) survives until closed.
func (b *Buffer) Unlink() error { return Unlink(b.name) }

// Unlink removes a named region; no-op if the name is already gone.
func Unlink(name string) error {
	p, err := path(name)
	if err != nil {
		return err
	}
	if err := unix.Unlink(p); err != nil && !errors.Is(err, os.ErrNotExist) && err != unix.ENOENT {
		return errors.Wrapf(err, "failed to unlink shm %q", name)
	}
	return nil
}

// Exists reports whether a name is currently present in the namespace.
func Exists(name string) bool {
	p, err := path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}
