// Package wire defines the control-plane message records exchanged between
// clients, the spatial scheduler, and volume workers, and their
// MessagePack encoding
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"github.com/P11011/Decoupled-CloudVolume/geom"
	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

// Message type tags; every record carries its tag under the "type" key so
// that the payload is self-describing.
const (
	MsgRead   = "READ"
	MsgResult = "RESULT"
	MsgReady  = "READY"
)

// Result status values.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

var (
	ErrUnknownType = errors.New("wire: unknown message type")
	errNoType      = errors.New("wire: record carries no type tag")
)

type (
	// Msg is any control-plane record.
	Msg interface {
		Type() string
		MarshalMsg(b []byte) ([]byte, error)
		UnmarshalMsg(b []byte) ([]byte, error)
		Msgsize() int
	}

	// ReadReq travels client -> scheduler -> worker. The scheduler injects
	// ClientID (the raw transport identity of the originating client)
	// before forwarding.
	ReadReq struct {
		ReqID    string    // `<pid>_req_<rand>`; leading segment is the affinity key
		BBox     geom.BBox // requested sub-volume, half-open
		Shape    [4]int64  // (dx, dy, dz, channels)
		Dtype    string    // element type tag
		Order    string    // memory layout: "F" (always, currently)
		ShmName  string    // `<pid>_shm_<rand>`
		DataSize int64     // total bytes: dx*dy*dz*C*sizeof(dtype)
		BgColor  int64     // background fill value for uncovered voxels
		ClientID []byte    // scheduler-injected; empty on the client->scheduler leg
	}

	// Result travels worker -> scheduler -> client.
	Result struct {
		ReqID    string
		ClientID []byte
		Status   string
		Error    string // set iff Status == StatusError
	}

	// Ready is the worker registration record.
	Ready struct {
		Parallel int64 // self-reported fill/decompress thread hint
	}
)

// interface guard
var (
	_ Msg = (*ReadReq)(nil)
	_ Msg = (*Result)(nil)
	_ Msg = (*Ready)(nil)
)

func (*ReadReq) Type() string { return MsgRead }
func (*Result) Type() string  { return MsgResult }
func (*Ready) Type() string   { return MsgReady }

// Encode marshals a record into a fresh buffer.
func Encode(m Msg) ([]byte, error) {
	return m.MarshalMsg(make([]byte, 0, m.Msgsize()))
}

// Decode peeks the type tag and unmarshals the full record.
func Decode(b []byte) (Msg, error) {
	tag, err := PeekType(b)
	if err != nil {
		return nil, err
	}
	var m Msg
	switch tag {
	case MsgRead:
		m = &ReadReq{}
	case MsgResult:
		m = &Result{}
	case MsgReady:
		m = &Ready{}
	default:
		return nil, errors.Wrap(ErrUnknownType, tag)
	}
	if _, err := m.UnmarshalMsg(b); err != nil {
		return nil, err
	}
	return m, nil
}

// PeekType extracts the "type" tag without decoding the rest of the record.
func PeekType(b []byte) (string, error) {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return "", err
	}
	for i := uint32(0); i < sz; i++ {
		var key string
		key, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return "", err
		}
		if key == fieldType {
			tag, _, err := msgp.ReadStringBytes(b)
			return tag, err
		}
		if b, err = msgp.Skip(b); err != nil {
			return "", err
		}
	}
	return "", errNoType
}
