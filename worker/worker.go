// Package worker implements the volume worker: a blocking loop that
// materializes one requested sub-volume at a time directly into the
// request's shared buffer
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/P11011/Decoupled-CloudVolume/cmn/cos"
	"github.com/P11011/Decoupled-CloudVolume/fill"
	"github.com/P11011/Decoupled-CloudVolume/shm"
	"github.com/P11011/Decoupled-CloudVolume/transport"
	"github.com/P11011/Decoupled-CloudVolume/volume"
	"github.com/P11011/Decoupled-CloudVolume/wire"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const dialTimeout = 30 * time.Second

// Worker processes read requests strictly serially; cluster parallelism
// comes from running many workers, plus the fill/decompress threads each
// one spawns internally (bounded by the parallel hint).
type Worker struct {
	dealer   *transport.Dealer
	vol      volume.Volume
	id       []byte
	parallel int
}

// Identity returns the transport identity `worker_<idx>_<pid>`.
func Identity(idx int) []byte {
	return fmt.Appendf(nil, "worker_%d_%d", idx, os.Getpid())
}

// New connects to the scheduler (retrying while it comes up) and prepares
// the worker; Run sends READY and enters the loop.
func New(addr string, idx, parallel int, vol volume.Volume) (*Worker, error) {
	if parallel <= 0 {
		parallel = 1
	}
	id := Identity(idx)
	dealer, err := transport.DialRetry(addr, id, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Worker{dealer: dealer, vol: vol, id: id, parallel: parallel}, nil
}

func (w *Worker) Close() error { return w.dealer.Close() }

// Run registers with the scheduler and serves requests until the transport
// goes down.
func (w *Worker) Run() error {
	b, err := wire.Encode(&wire.Ready{Parallel: int64(w.parallel)})
	if err != nil {
		return err
	}
	if err := w.dealer.Send(b); err != nil {
		return errors.Wrap(err, "failed to register")
	}
	glog.Infof("%s: ready (parallel=%d)", w.id, w.parallel)

	for {
		payload, err := w.dealer.Recv(0)
		if err != nil {
			return errors.Wrap(err, "transport receive failed")
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			glog.Errorf("%s: dropping malformed frame: %v", w.id, err)
			continue
		}
		req, ok := msg.(*wire.ReadReq)
		if !ok {
			glog.Errorf("%s: unexpected message type %q", w.id, msg.Type())
			continue
		}
		w.serve(req)
	}
}

// serve runs one request and always acknowledges it; errors are reported in
// the RESULT record, never escalated past the loop.
func (w *Worker) serve(req *wire.ReadReq) {
	res := wire.Result{ReqID: req.ReqID, ClientID: req.ClientID, Status: wire.StatusOK}
	if err := w.process(req); err != nil {
		res.Status = wire.StatusError
		res.Error = err.Error()
		glog.Errorf("%s: %s failed: %v", w.id, req.ReqID, err)
	}
	b, err := wire.Encode(&res)
	if err != nil {
		glog.Errorf("%s: encoding result for %s: %v", w.id, req.ReqID, err)
		return
	}
	if err := w.dealer.Send(b); err != nil {
		glog.Errorf("%s: sending result for %s: %v", w.id, req.ReqID, err)
	}
}

// process creates the request's shared buffer, paints the background, and
// asks the volume library to write the covered voxels straight into it.
// On success the buffer is detached but deliberately not unlinked - the
// client's result handle is its sole owner from here on. On failure the
// buffer is unlinked so that an ERROR result never leaks a name.
func (w *Worker) process(req *wire.ReadReq) (err error) {
	started := time.Now()
	if err := validate(req, w.vol.Meta()); err != nil {
		return err
	}
	buf, err := shm.Create(req.ShmName, req.DataSize)
	if err != nil {
		return err
	}
	defer func() {
		buf.Close()
		if err != nil {
			shm.Unlink(req.ShmName)
		}
	}()

	dtype := cos.Dtype(req.Dtype)
	fill.Fill(buf.Bytes(), dtype, req.BgColor, 2*w.parallel)
	filled := time.Now()

	if err := w.vol.ReadInto(buf.Bytes(), req.BBox); err != nil {
		return errors.Wrapf(err, "volume read %s failed", req.BBox.String())
	}
	if glog.V(4) {
		glog.Infof("%s: %s fill=%v read=%v", w.id, req.ReqID,
			filled.Sub(started), time.Since(filled))
	}
	return nil
}

func validate(req *wire.ReadReq, meta volume.Metadata) error {
	dtype := cos.Dtype(req.Dtype)
	if !dtype.IsValid() {
		return errors.Errorf("invalid dtype %q", req.Dtype)
	}
	if req.Order != "F" {
		return errors.Errorf("unsupported memory order %q", req.Order)
	}
	if !req.BBox.IsValid() {
		return errors.Errorf("invalid bbox %s", req.BBox.String())
	}
	var (
		d     = req.BBox
		shape = req.Shape
	)
	if shape[0] != d.Dx() || shape[1] != d.Dy() || shape[2] != d.Dz() || shape[3] != meta.NumChannels {
		return errors.Errorf("shape %v does not match bbox %s x %d channels", shape, d.String(), meta.NumChannels)
	}
	if want := shape[0] * shape[1] * shape[2] * shape[3] * int64(dtype.Size()); req.DataSize != want {
		return errors.Errorf("data_size %d != %d", req.DataSize, want)
	}
	return nil
}
