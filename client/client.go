// Package client implements the per-process front-end of the volume
// broker: request sizing and dispatch, result correlation, and the
// scoped-ownership array wrapping the shared result buffer
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package client

import (
	"time"

	"github.com/P11011/Decoupled-CloudVolume/cmn"
	"github.com/P11011/Decoupled-CloudVolume/cmn/cos"
	"github.com/P11011/Decoupled-CloudVolume/fill"
	"github.com/P11011/Decoupled-CloudVolume/geom"
	"github.com/P11011/Decoupled-CloudVolume/shm"
	"github.com/P11011/Decoupled-CloudVolume/transport"
	"github.com/P11011/Decoupled-CloudVolume/volume"
	"github.com/P11011/Decoupled-CloudVolume/wire"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

var (
	ErrEmptyShape = errors.New("client: requested shape is empty")
	ErrTimeout    = errors.New("client: request timed out")
)

// Client is the user-process proxy: one long-lived dealer connection to the
// scheduler plus a local handle to the volume for metadata and for the
// small-request bypass. A Client serves one request at a time.
type Client struct {
	dealer    *transport.Dealer
	vol       volume.Volume
	timeout   time.Duration
	threshold int64 // element count; below it reads stay local
}

// New connects a client proxy to the scheduler at addr.
func New(addr string, vol volume.Volume, cfg *cmn.Config) (*Client, error) {
	if cfg == nil {
		cfg = cmn.GCO.Get()
	}
	dealer, err := transport.Dial(addr, []byte(cos.GenClientID()))
	if err != nil {
		return nil, err
	}
	return &Client{
		dealer:    dealer,
		vol:       vol,
		timeout:   cfg.ClientTimeout.D(),
		threshold: cfg.SHMThreshold,
	}, nil
}

func (c *Client) Close() error { return c.dealer.Close() }

// Read materializes the requested sub-volume and returns the result array.
// Large requests go through the broker into a shared buffer and the caller
// owns the returned array (release it!); requests below the bypass
// threshold are served by the local volume handle into private memory.
func (c *Client) Read(bbox geom.BBox) (*Array, error) {
	meta := c.vol.Meta()
	if !bbox.IsValid() {
		return nil, errors.Wrapf(ErrEmptyShape, "bbox %s", bbox.String())
	}
	var (
		shape  = [4]int64{bbox.Dx(), bbox.Dy(), bbox.Dz(), meta.NumChannels}
		nelems = shape[0] * shape[1] * shape[2] * shape[3]
	)
	if nelems <= 0 {
		return nil, errors.Wrapf(ErrEmptyShape, "bbox %s", bbox.String())
	}
	if nelems < c.threshold {
		return c.readLocal(bbox, shape, meta)
	}
	return c.readShared(bbox, shape, meta)
}

// readLocal is the bypass: no broker, no shared memory.
func (c *Client) readLocal(bbox geom.BBox, shape [4]int64, meta volume.Metadata) (*Array, error) {
	buf := make([]byte, volume.BufSize(&meta, &bbox))
	fill.Fill(buf, meta.DataType, meta.Background, 1)
	if err := c.vol.ReadInto(buf, bbox); err != nil {
		return nil, err
	}
	return newLocal(buf, shape, meta.DataType), nil
}

func (c *Client) readShared(bbox geom.BBox, shape [4]int64, meta volume.Metadata) (*Array, error) {
	req := &wire.ReadReq{
		ReqID:    cos.GenReqID(),
		BBox:     bbox,
		Shape:    shape,
		Dtype:    string(meta.DataType),
		Order:    "F",
		ShmName:  cos.GenShmName(),
		DataSize: volume.BufSize(&meta, &bbox),
		BgColor:  meta.Background,
	}
	b, err := wire.Encode(req)
	if err != nil {
		return nil, err
	}
	if err := c.dealer.Send(b); err != nil {
		return nil, errors.Wrapf(err, "failed to submit %s", req.ReqID)
	}

	res, err := c.await(req.ReqID)
	if err != nil {
		// the worker may have created the buffer before things went
		// sideways; reclaim the name so nothing leaks
		shm.Unlink(req.ShmName)
		return nil, err
	}
	if res.Status != wire.StatusOK {
		shm.Unlink(req.ShmName)
		return nil, errors.Errorf("worker error: %s", res.Error)
	}

	buf, err := shm.Attach(req.ShmName)
	if err != nil {
		shm.Unlink(req.ShmName)
		return nil, errors.Wrapf(err, "result buffer for %s", req.ReqID)
	}
	if buf.Size() != req.DataSize {
		buf.Close()
		buf.Unlink()
		return nil, errors.Errorf("result buffer %s has %d bytes, want %d",
			req.ShmName, buf.Size(), req.DataSize)
	}
	return newOwned(buf, shape, meta.DataType), nil
}

// await blocks for the RESULT matching reqID. Results for other request IDs
// are stale leftovers of previously timed-out requests on this same
// connection - they are skipped, not errors.
func (c *Client) await(reqID string) (*wire.Result, error) {
	deadline := time.Now().Add(c.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.Wrap(ErrTimeout, reqID)
		}
		payload, err := c.dealer.Recv(remaining)
		if err != nil {
			if errors.Is(err, transport.ErrRecvTimeout) {
				return nil, errors.Wrap(ErrTimeout, reqID)
			}
			return nil, err
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			glog.Errorf("client: dropping malformed frame: %v", err)
			continue
		}
		res, ok := msg.(*wire.Result)
		if !ok {
			glog.Errorf("client: unexpected message type %q", msg.Type())
			continue
		}
		if res.ReqID != reqID {
			if glog.V(4) {
				glog.Infof("client: skipping stale result %s (awaiting %s)", res.ReqID, reqID)
			}
			continue
		}
		return res, nil
	}
}
