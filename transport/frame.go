// Package transport provides the identity-routed message socket connecting
// clients and volume workers to the spatial scheduler: a router endpoint on
// the scheduler side, dealer endpoints everywhere else, length-prefixed
// binary frames in between
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"

	"github.com/P11011/Decoupled-CloudVolume/cmn/cos"
	"github.com/pkg/errors"
)

const (
	// handshake preamble: magic + version
	magic   = "CVTP"
	version = byte(1)

	// control-plane records are small; anything larger is a framing bug
	maxFrameSize = 16 * cos.MiB

	maxIdentitySize = 256
)

var (
	ErrBadHandshake = errors.New("transport: invalid handshake")
	ErrFrameTooBig  = errors.New("transport: frame exceeds size limit")
	ErrClosed       = errors.New("transport: endpoint closed")
)

// writeFrame emits one `uint32(len) | body` frame. Callers serialize writes.
func writeFrame(w io.Writer, body []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, ErrFrameTooBig
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// sendHandshake introduces a dealer to the router: magic, version, and the
// dealer's identity as the first frame.
func sendHandshake(conn net.Conn, identity []byte) error {
	hello := make([]byte, 0, len(magic)+1)
	hello = append(hello, magic...)
	hello = append(hello, version)
	if _, err := conn.Write(hello); err != nil {
		return err
	}
	return writeFrame(conn, identity)
}

func recvHandshake(r *bufio.Reader) (identity []byte, err error) {
	var pre [len(magic) + 1]byte
	if _, err = io.ReadFull(r, pre[:]); err != nil {
		return nil, err
	}
	if string(pre[:len(magic)]) != magic || pre[len(magic)] != version {
		return nil, ErrBadHandshake
	}
	if identity, err = readFrame(r); err != nil {
		return nil, err
	}
	if len(identity) == 0 || len(identity) > maxIdentitySize {
		return nil, ErrBadHandshake
	}
	return identity, nil
}
