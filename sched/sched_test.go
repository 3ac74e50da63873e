// Package sched implements the spatial scheduler
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package sched

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/P11011/Decoupled-CloudVolume/cmn"
	"github.com/P11011/Decoupled-CloudVolume/geom"
	"github.com/P11011/Decoupled-CloudVolume/transport"
	"github.com/P11011/Decoupled-CloudVolume/wire"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// testEnv drives the scheduler deterministically: real dealers connect to a
// real router, but every inbound datagram is pumped into handle() by the
// test itself instead of Run().
type testEnv struct {
	r       *transport.Router
	s       *Scheduler
	workers []*transport.Dealer
	client  *transport.Dealer
	rx      chan fwdHit
}

// fwdHit is one READ forwarded to a fake worker.
type fwdHit struct {
	idx int
	req *wire.ReadReq
}

func newTestEnv(cfg *cmn.Config, numWorkers int) *testEnv {
	r, err := transport.Listen("127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	e := &testEnv{r: r, s: New(cfg, r), rx: make(chan fwdHit, 128)}
	for i := 0; i < numWorkers; i++ {
		w, err := transport.Dial(r.Addr().String(), []byte(fmt.Sprintf("worker_%d_1000", i)))
		Expect(err).NotTo(HaveOccurred())
		e.workers = append(e.workers, w)
		e.sendReady(w, 4)
		go e.pumpWorker(i, w)
	}
	c, err := transport.Dial(r.Addr().String(), []byte("2000_client_t"))
	Expect(err).NotTo(HaveOccurred())
	e.client = c
	// one throwaway frame makes the client's registration visible before
	// anything is relayed back to it; the scheduler drops it as malformed
	Expect(c.Send([]byte{0xc0})).To(Succeed())
	e.pump()
	return e
}

// pumpWorker funnels every request forwarded to one fake worker into rx;
// it exits when the dealer closes.
func (e *testEnv) pumpWorker(idx int, w *transport.Dealer) {
	for {
		payload, err := w.Recv(0)
		if err != nil {
			return
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			continue
		}
		if req, ok := msg.(*wire.ReadReq); ok {
			e.rx <- fwdHit{idx: idx, req: req}
		}
	}
}

func (e *testEnv) close() {
	for _, w := range e.workers {
		w.Close()
	}
	if e.client != nil {
		e.client.Close()
	}
	e.r.Close()
}

// pump relays exactly one datagram from the router into the scheduler.
func (e *testEnv) pump() {
	select {
	case dg := <-e.r.Ch():
		e.s.handle(dg)
	case <-time.After(5 * time.Second):
		Fail("no datagram arrived at the router")
	}
}

func (e *testEnv) sendReady(w *transport.Dealer, parallel int64) {
	b, err := wire.Encode(&wire.Ready{Parallel: parallel})
	Expect(err).NotTo(HaveOccurred())
	Expect(w.Send(b)).To(Succeed())
	e.pump()
}

func (e *testEnv) sendRead(req *wire.ReadReq) {
	b, err := wire.Encode(req)
	Expect(err).NotTo(HaveOccurred())
	Expect(e.client.Send(b)).To(Succeed())
	e.pump()
}

// recvRead returns the index of the worker that got the forwarded request.
func (e *testEnv) recvRead() (int, *wire.ReadReq) {
	select {
	case h := <-e.rx:
		return h.idx, h.req
	case <-time.After(2 * time.Second):
		Fail("no worker received the dispatched request")
		return -1, nil
	}
}

func (e *testEnv) sendResult(workerIdx int, req *wire.ReadReq) {
	res := &wire.Result{ReqID: req.ReqID, ClientID: req.ClientID, Status: wire.StatusOK}
	b, err := wire.Encode(res)
	Expect(err).NotTo(HaveOccurred())
	Expect(e.workers[workerIdx].Send(b)).To(Succeed())
	e.pump()
}

func (e *testEnv) workerID(idx int) string { return fmt.Sprintf("worker_%d_1000", idx) }

func (e *testEnv) load(idx int) int {
	w, ok := e.s.workers[e.workerID(idx)]
	Expect(ok).To(BeTrue())
	return w.load
}

var reqSeq int

func readReq(pid int, bbox geom.BBox) *wire.ReadReq {
	reqSeq++
	return &wire.ReadReq{
		ReqID:    fmt.Sprintf("%d_req_%d", pid, reqSeq),
		BBox:     bbox,
		Shape:    [4]int64{bbox.Dx(), bbox.Dy(), bbox.Dz(), 1},
		Dtype:    "uint8",
		Order:    "F",
		ShmName:  fmt.Sprintf("%d_shm_%d", pid, reqSeq),
		DataSize: bbox.NumVoxels(),
		BgColor:  0,
	}
}

var box = geom.BBox{X1: 0, Y1: 0, Z1: 0, X2: 10, Y2: 10, Z2: 1}

var _ = Describe("Scheduler", func() {
	var (
		cfg *cmn.Config
		e   *testEnv
	)

	BeforeEach(func() {
		cfg = cmn.DefaultConfig()
	})
	AfterEach(func() {
		if e != nil {
			e.close()
			e = nil
		}
	})

	Describe("registration", func() {
		It("should register workers idempotently", func() {
			e = newTestEnv(cfg, 2)
			Expect(e.s.workers).To(HaveLen(2))

			e.sendReady(e.workers[0], 4) // duplicate READY
			Expect(e.s.workers).To(HaveLen(2))
			Expect(e.load(0)).To(BeZero())
		})

		It("should park reads arriving before any worker and flush on the first READY", func() {
			e = newTestEnv(cfg, 0)
			e.sendRead(readReq(111, box))
			Expect(e.s.pending).To(HaveLen(1))

			w, err := transport.Dial(e.r.Addr().String(), []byte("worker_9_1"))
			Expect(err).NotTo(HaveOccurred())
			defer w.Close()
			e.sendReady(w, 2)
			Expect(e.s.pending).To(BeEmpty())

			payload, err := w.Recv(2 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			msg, err := wire.Decode(payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Type()).To(Equal(wire.MsgRead))
		})
	})

	Describe("dispatch bookkeeping", func() {
		It("should inject the client identity and track load", func() {
			e = newTestEnv(cfg, 1)
			e.sendRead(readReq(111, box))

			_, fwd := e.recvRead()
			Expect(string(fwd.ClientID)).To(Equal("2000_client_t"))
			Expect(e.load(0)).To(Equal(1))

			e.sendResult(0, fwd)
			Expect(e.load(0)).To(BeZero())

			// the client gets the relayed result
			payload, err := e.client.Recv(2 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			msg, err := wire.Decode(payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.(*wire.Result).ReqID).To(Equal(fwd.ReqID))
		})

		It("should saturate load decrements at zero", func() {
			e = newTestEnv(cfg, 1)
			res := &wire.Result{ReqID: "111_req_x", ClientID: []byte("2000_client_t"), Status: wire.StatusOK}
			b, err := wire.Encode(res)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.workers[0].Send(b)).To(Succeed())
			e.pump()
			Expect(e.load(0)).To(BeZero())
		})

		It("should record request history bounded by HistoryLen", func() {
			cfg.Routing = cmn.RoutingRoundRobin
			e = newTestEnv(cfg, 1)
			for i := 0; i < cfg.HistoryLen+3; i++ {
				e.sendRead(readReq(111, box))
				idx, fwd := e.recvRead()
				e.sendResult(idx, fwd)
			}
			w := e.s.workers[e.workerID(0)]
			Expect(w.history).To(HaveLen(cfg.HistoryLen))
		})
	})

	Describe("affinity strategy", func() {
		BeforeEach(func() {
			cfg.Routing = cmn.RoutingAffinity
		})

		It("should keep one process's requests on one worker", func() {
			e = newTestEnv(cfg, 2)
			_, first := dispatchOne(e, 111)
			target := e.s.processMap["111"]
			e.sendResult(indexOf(e, target), first)

			for i := 0; i < 9; i++ {
				idx, fwd := dispatchOne(e, 111)
				Expect(e.workerID(idx)).To(Equal(target))
				e.sendResult(idx, fwd)
			}
		})

		It("should send a second process to the least-loaded worker", func() {
			e = newTestEnv(cfg, 2)
			idx1, _ := dispatchOne(e, 111) // outstanding: load(idx1) == 1
			idx2, _ := dispatchOne(e, 222)
			Expect(idx2).NotTo(Equal(idx1))
			Expect(e.s.processMap["111"]).NotTo(Equal(e.s.processMap["222"]))
		})

		It("should rebind when the bound worker exceeds the tolerance", func() {
			cfg.LoadTolerance = 2
			e = newTestEnv(cfg, 2)

			bound, _ := dispatchOne(e, 111)
			// pile three outstanding requests onto the bound worker
			for i := 0; i < 2; i++ {
				idx, _ := dispatchOne(e, 111)
				Expect(idx).To(Equal(bound))
			}
			Expect(e.load(bound)).To(Equal(3))

			// load 3 > min(0) + tolerance(2): the process rebinds
			idx, _ := dispatchOne(e, 111)
			Expect(idx).NotTo(Equal(bound))
			Expect(e.s.processMap["111"]).To(Equal(e.workerID(idx)))
		})
	})

	Describe("spatial strategy", func() {
		BeforeEach(func() {
			cfg.Routing = cmn.RoutingSpatial
		})

		It("should route to the worker with overlapping history", func() {
			e = newTestEnv(cfg, 2)
			seed := geom.BBox{X1: 0, Y1: 0, Z1: 0, X2: 100, Y2: 100, Z2: 10}
			e.s.workers[e.workerID(1)].history = append(
				e.s.workers[e.workerID(1)].history, seed)

			overlap := geom.BBox{X1: 50, Y1: 50, Z1: 0, X2: 150, Y2: 150, Z2: 10}
			e.sendRead(readReq(111, overlap))
			idx, _ := e.recvRead()
			Expect(idx).To(Equal(1))
		})

		It("should fall back to a stable Morton slot with no overlap", func() {
			e = newTestEnv(cfg, 4)
			cold := geom.BBox{X1: 5000, Y1: 5000, Z1: 500, X2: 5100, Y2: 5100, Z2: 510}

			e.sendRead(readReq(111, cold))
			first, fwd := e.recvRead()
			e.sendResult(first, fwd)

			// an identical cold request lands on the same worker
			e.sendRead(readReq(111, cold))
			again, _ := e.recvRead()
			Expect(again).To(Equal(first))
		})
	})

	Describe("round-robin strategy", func() {
		It("should cycle through workers in identity order", func() {
			cfg.Routing = cmn.RoutingRoundRobin
			e = newTestEnv(cfg, 3)
			var seen []int
			for i := 0; i < 6; i++ {
				idx, fwd := dispatchOne(e, 111)
				seen = append(seen, idx)
				e.sendResult(idx, fwd)
			}
			Expect(seen[0:3]).To(ConsistOf(0, 1, 2))
			Expect(seen[3:6]).To(Equal(seen[0:3]))
		})
	})

	Describe("load conservation", func() {
		It("should return every worker to zero load once all results are in", func() {
			cfg.Routing = cmn.RoutingAffinity
			e = newTestEnv(cfg, 3)

			type inflight struct {
				idx int
				req *wire.ReadReq
			}
			var out []inflight
			for pid := 100; pid < 104; pid++ {
				for i := 0; i < 4; i++ {
					idx, fwd := dispatchOne(e, pid)
					out = append(out, inflight{idx: idx, req: fwd})
				}
			}
			total := 0
			for i := range e.workers {
				total += e.load(i)
			}
			Expect(total).To(Equal(len(out)))

			for _, f := range out {
				e.sendResult(f.idx, f.req)
			}
			for i := range e.workers {
				Expect(e.load(i)).To(BeZero())
			}
		})

		It("should conserve load on random traces", func() {
			rnd := rand.New(rand.NewSource(GinkgoRandomSeed()))
			strategies := []string{cmn.RoutingAffinity, cmn.RoutingSpatial, cmn.RoutingRoundRobin}
			cfg.Routing = strategies[rnd.Intn(len(strategies))]
			e = newTestEnv(cfg, 1+rnd.Intn(8))

			type inflight struct {
				idx int
				req *wire.ReadReq
			}
			var (
				out  []inflight
				seen = map[string]struct{}{}
			)
			for i := 0; i < 64; i++ {
				if len(out) > 0 && rnd.Intn(2) == 0 {
					// retire a random in-flight request
					j := rnd.Intn(len(out))
					e.sendResult(out[j].idx, out[j].req)
					out = append(out[:j], out[j+1:]...)
					continue
				}
				b := geom.BBox{
					X1: rnd.Int63n(500), Y1: rnd.Int63n(500), Z1: rnd.Int63n(500),
				}
				b.X2, b.Y2, b.Z2 = b.X1+1+rnd.Int63n(100), b.Y1+1+rnd.Int63n(100), b.Z1+1+rnd.Int63n(100)
				e.sendRead(readReq(100+rnd.Intn(4), b))
				idx, fwd := e.recvRead()
				_, dup := seen[fwd.ReqID]
				Expect(dup).To(BeFalse(), "req_id reuse in flight")
				seen[fwd.ReqID] = struct{}{}
				out = append(out, inflight{idx: idx, req: fwd})
			}
			total := 0
			for i := range e.workers {
				total += e.load(i)
			}
			Expect(total).To(Equal(len(out)), "outstanding != dispatched - acknowledged")

			for _, f := range out {
				e.sendResult(f.idx, f.req)
			}
			for i := range e.workers {
				Expect(e.load(i)).To(BeZero())
			}
		})
	})
})

func dispatchOne(e *testEnv, pid int) (int, *wire.ReadReq) {
	e.sendRead(readReq(pid, box))
	return e.recvRead()
}

func indexOf(e *testEnv, workerID string) int {
	for i := range e.workers {
		if e.workerID(i) == workerID {
			return i
		}
	}
	Fail("unknown worker id " + workerID)
	return -1
}
