// Package wire defines the control-plane message records
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package wire_test

import (
	"testing"

	"github.com/P11011/Decoupled-CloudVolume/geom"
	"github.com/P11011/Decoupled-CloudVolume/tools/tassert"
	"github.com/P11011/Decoupled-CloudVolume/wire"
)

func TestReadReqRoundTrip(t *testing.T) {
	req := &wire.ReadReq{
		ReqID:    "1234_req_abc",
		BBox:     geom.BBox{X1: 10, Y1: 20, Z1: 30, X2: 110, Y2: 220, Z2: 330},
		Shape:    [4]int64{100, 200, 300, 2},
		Dtype:    "uint64",
		Order:    "F",
		ShmName:  "1234_shm_def",
		DataSize: 100 * 200 * 300 * 2 * 8,
		BgColor:  -1,
	}
	b, err := wire.Encode(req)
	tassert.CheckFatal(t, err)

	tag, err := wire.PeekType(b)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, tag == wire.MsgRead, "peeked %q", tag)

	msg, err := wire.Decode(b)
	tassert.CheckFatal(t, err)
	got, ok := msg.(*wire.ReadReq)
	tassert.Fatalf(t, ok, "decoded %T", msg)

	tassert.Errorf(t, got.ReqID == req.ReqID, "req_id %q", got.ReqID)
	tassert.Errorf(t, got.BBox == req.BBox, "bbox %v", got.BBox)
	tassert.Errorf(t, got.Shape == req.Shape, "shape %v", got.Shape)
	tassert.Errorf(t, got.DataSize == req.DataSize, "data_size %d", got.DataSize)
	tassert.Errorf(t, got.BgColor == -1, "bg_color %d", got.BgColor)
	tassert.Errorf(t, len(got.ClientID) == 0, "client_id must be absent before injection")
}

// the scheduler injects client_id into an already-built request and
// re-encodes; the worker-side decode must see it
func TestClientIDInjection(t *testing.T) {
	req := &wire.ReadReq{
		ReqID:   "77_req_x",
		BBox:    geom.BBox{X1: 0, Y1: 0, Z1: 0, X2: 1, Y2: 1, Z2: 1},
		Shape:   [4]int64{1, 1, 1, 1},
		Dtype:   "uint8",
		Order:   "F",
		ShmName: "77_shm_x",
	}
	req.ClientID = []byte("77_client_zz")
	b, err := wire.Encode(req)
	tassert.CheckFatal(t, err)

	msg, err := wire.Decode(b)
	tassert.CheckFatal(t, err)
	got := msg.(*wire.ReadReq)
	tassert.Errorf(t, string(got.ClientID) == "77_client_zz", "client_id %q", got.ClientID)
}

func TestResultRoundTrip(t *testing.T) {
	for _, res := range []*wire.Result{
		{ReqID: "1_req_a", ClientID: []byte("1_client_b"), Status: wire.StatusOK},
		{ReqID: "2_req_c", ClientID: []byte("2_client_d"), Status: wire.StatusError, Error: "chunk not present"},
	} {
		b, err := wire.Encode(res)
		tassert.CheckFatal(t, err)
		msg, err := wire.Decode(b)
		tassert.CheckFatal(t, err)
		got, ok := msg.(*wire.Result)
		tassert.Fatalf(t, ok, "decoded %T", msg)
		tassert.Errorf(t, got.ReqID == res.ReqID && got.Status == res.Status && got.Error == res.Error,
			"round trip mismatch: %+v vs %+v", got, res)
		tassert.Errorf(t, string(got.ClientID) == string(res.ClientID), "client_id %q", got.ClientID)
	}
}

func TestReadyRoundTrip(t *testing.T) {
	b, err := wire.Encode(&wire.Ready{Parallel: 12})
	tassert.CheckFatal(t, err)
	msg, err := wire.Decode(b)
	tassert.CheckFatal(t, err)
	got, ok := msg.(*wire.Ready)
	tassert.Fatalf(t, ok, "decoded %T", msg)
	tassert.Errorf(t, got.Parallel == 12, "parallel %d", got.Parallel)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := wire.Decode([]byte{0xc3, 0x01, 0x02})
	tassert.Errorf(t, err != nil, "garbage must not decode")
	_, err = wire.Decode(nil)
	tassert.Errorf(t, err != nil, "empty payload must not decode")
}
