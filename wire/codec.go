// Package wire defines the control-plane message records exchanged between
// clients, the spatial scheduler, and volume workers, and their
// MessagePack encoding
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"github.com/P11011/Decoupled-CloudVolume/geom"
	"github.com/tinylib/msgp/msgp"
)

// Wire field names. Integers are int64, strings UTF-8, identities raw bytes.
const (
	fieldType     = "type"
	fieldReqID    = "req_id"
	fieldBBox     = "bbox"
	fieldShape    = "shape"
	fieldDtype    = "dtype"
	fieldOrder    = "order"
	fieldShmName  = "shm_name"
	fieldDataSize = "data_size"
	fieldBgColor  = "bg_color"
	fieldClientID = "client_id"
	fieldStatus   = "status"
	fieldError    = "error"
	fieldParallel = "parallel"
)

/////////////
// ReadReq //
/////////////

func (z *ReadReq) MarshalMsg(b []byte) ([]byte, error) {
	fields := uint32(10)
	if len(z.ClientID) == 0 {
		fields--
	}
	b = msgp.AppendMapHeader(b, fields)
	b = msgp.AppendString(b, fieldType)
	b = msgp.AppendString(b, MsgRead)
	b = msgp.AppendString(b, fieldReqID)
	b = msgp.AppendString(b, z.ReqID)
	b = msgp.AppendString(b, fieldBBox)
	b = msgp.AppendArrayHeader(b, 6)
	for _, v := range z.BBox.Array() {
		b = msgp.AppendInt64(b, v)
	}
	b = msgp.AppendString(b, fieldShape)
	b = msgp.AppendArrayHeader(b, 4)
	for _, v := range z.Shape {
		b = msgp.AppendInt64(b, v)
	}
	b = msgp.AppendString(b, fieldDtype)
	b = msgp.AppendString(b, z.Dtype)
	b = msgp.AppendString(b, fieldOrder)
	b = msgp.AppendString(b, z.Order)
	b = msgp.AppendString(b, fieldShmName)
	b = msgp.AppendString(b, z.ShmName)
	b = msgp.AppendString(b, fieldDataSize)
	b = msgp.AppendInt64(b, z.DataSize)
	b = msgp.AppendString(b, fieldBgColor)
	b = msgp.AppendInt64(b, z.BgColor)
	if len(z.ClientID) > 0 {
		b = msgp.AppendString(b, fieldClientID)
		b = msgp.AppendBytes(b, z.ClientID)
	}
	return b, nil
}

func (z *ReadReq) UnmarshalMsg(b []byte) ([]byte, error) {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	for i := uint32(0); i < sz; i++ {
		var key string
		if key, b, err = msgp.ReadStringBytes(b); err != nil {
			return b, err
		}
		switch key {
		case fieldType:
			_, b, err = msgp.ReadStringBytes(b)
		case fieldReqID:
			z.ReqID, b, err = msgp.ReadStringBytes(b)
		case fieldBBox:
			var flat [6]int64
			if b, err = readInt64Array(b, flat[:]); err == nil {
				z.BBox = geom.FromArray(flat)
			}
		case fieldShape:
			b, err = readInt64Array(b, z.Shape[:])
		case fieldDtype:
			z.Dtype, b, err = msgp.ReadStringBytes(b)
		case fieldOrder:
			z.Order, b, err = msgp.ReadStringBytes(b)
		case fieldShmName:
			z.ShmName, b, err = msgp.ReadStringBytes(b)
		case fieldDataSize:
			z.DataSize, b, err = msgp.ReadInt64Bytes(b)
		case fieldBgColor:
			z.BgColor, b, err = msgp.ReadInt64Bytes(b)
		case fieldClientID:
			z.ClientID, b, err = msgp.ReadBytesBytes(b, nil)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return b, err
		}
	}
	return b, nil
}

func (z *ReadReq) Msgsize() int {
	return msgp.MapHeaderSize +
		2*10*msgp.StringPrefixSize + // field names
		len(fieldType) + len(fieldReqID) + len(fieldBBox) + len(fieldShape) +
		len(fieldDtype) + len(fieldOrder) + len(fieldShmName) +
		len(fieldDataSize) + len(fieldBgColor) + len(fieldClientID) +
		len(MsgRead) + len(z.ReqID) + len(z.Dtype) + len(z.Order) + len(z.ShmName) +
		2*msgp.ArrayHeaderSize + 12*msgp.Int64Size +
		msgp.BytesPrefixSize + len(z.ClientID)
}

////////////
// Result //
////////////

func (z *Result) MarshalMsg(b []byte) ([]byte, error) {
	fields := uint32(5)
	if z.Error == "" {
		fields--
	}
	b = msgp.AppendMapHeader(b, fields)
	b = msgp.AppendString(b, fieldType)
	b = msgp.AppendString(b, MsgResult)
	b = msgp.AppendString(b, fieldReqID)
	b = msgp.AppendString(b, z.ReqID)
	b = msgp.AppendString(b, fieldClientID)
	b = msgp.AppendBytes(b, z.ClientID)
	b = msgp.AppendString(b, fieldStatus)
	b = msgp.AppendString(b, z.Status)
	if z.Error != "" {
		b = msgp.AppendString(b, fieldError)
		b = msgp.AppendString(b, z.Error)
	}
	return b, nil
}

func (z *Result) UnmarshalMsg(b []byte) ([]byte, error) {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	for i := uint32(0); i < sz; i++ {
		var key string
		if key, b, err = msgp.ReadStringBytes(b); err != nil {
			return b, err
		}
		switch key {
		case fieldType:
			_, b, err = msgp.ReadStringBytes(b)
		case fieldReqID:
			z.ReqID, b, err = msgp.ReadStringBytes(b)
		case fieldClientID:
			z.ClientID, b, err = msgp.ReadBytesBytes(b, nil)
		case fieldStatus:
			z.Status, b, err = msgp.ReadStringBytes(b)
		case fieldError:
			z.Error, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return b, err
		}
	}
	return b, nil
}

func (z *Result) Msgsize() int {
	return msgp.MapHeaderSize +
		2*5*msgp.StringPrefixSize +
		len(fieldType) + len(fieldReqID) + len(fieldClientID) + len(fieldStatus) + len(fieldError) +
		len(MsgResult) + len(z.ReqID) + len(z.Status) + len(z.Error) +
		msgp.BytesPrefixSize + len(z.ClientID)
}

///////////
// Ready //
///////////

func (z *Ready) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 2)
	b = msgp.AppendString(b, fieldType)
	b = msgp.AppendString(b, MsgReady)
	b = msgp.AppendString(b, fieldParallel)
	b = msgp.AppendInt64(b, z.Parallel)
	return b, nil
}

func (z *Ready) UnmarshalMsg(b []byte) ([]byte, error) {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	for i := uint32(0); i < sz; i++ {
		var key string
		if key, b, err = msgp.ReadStringBytes(b); err != nil {
			return b, err
		}
		switch key {
		case fieldType:
			_, b, err = msgp.ReadStringBytes(b)
		case fieldParallel:
			z.Parallel, b, err = msgp.ReadInt64Bytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return b, err
		}
	}
	return b, nil
}

func (z *Ready) Msgsize() int {
	return msgp.MapHeaderSize + 2*2*msgp.StringPrefixSize +
		len(fieldType) + len(fieldParallel) + len(MsgReady) + msgp.Int64Size
}

func readInt64Array(b []byte, out []int64) ([]byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if int(sz) != len(out) {
		return b, msgp.ArrayError{Wanted: uint32(len(out)), Got: sz}
	}
	for i := range out {
		if out[i], b, err = msgp.ReadInt64Bytes(b); err != nil {
			return b, err
		}
	}
	return b, nil
}
