// Package sched implements the spatial scheduler: a single-threaded event
// loop that registers volume workers, routes client read requests across
// them with cache-affinity heuristics, and relays results back
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package sched

import (
	"sort"

	"github.com/P11011/Decoupled-CloudVolume/cmn"
	"github.com/P11011/Decoupled-CloudVolume/cmn/debug"
	"github.com/P11011/Decoupled-CloudVolume/geom"
	"github.com/P11011/Decoupled-CloudVolume/transport"
	"github.com/P11011/Decoupled-CloudVolume/wire"
	"github.com/golang/glog"
)

type (
	// workerState is the scheduler's per-worker book-keeping.
	workerState struct {
		id       string      // transport identity (map key form)
		idb      []byte      // same, raw
		history  []geom.BBox // most recent request boxes, capped at HistoryLen
		load     int         // dispatched but not yet acknowledged
		parallel int         // self-reported fill/decompress hint
	}

	pendingRead struct {
		clientID []byte
		req      *wire.ReadReq
	}

	// Scheduler owns all routing state. Every mutation happens on the
	// Run goroutine - there is no locking anywhere below, on purpose.
	Scheduler struct {
		cfg        *cmn.Config
		r          *transport.Router
		strategy   strategy
		workers    map[string]*workerState
		order      []string          // sorted identities; ties break on this
		processMap map[string]string // affinity key -> worker identity
		pending    []pendingRead     // READs that arrived before any READY
		rr         int               // round-robin cursor
	}
)

// New builds a scheduler serving on the given router.
func New(cfg *cmn.Config, r *transport.Router) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		r:          r,
		workers:    make(map[string]*workerState, 8),
		processMap: make(map[string]string, 8),
	}
	s.strategy = newStrategy(cfg.Routing)
	return s
}

// Run drains the router until it closes. Single goroutine; per-request work
// is microseconds, so there is nothing to parallelize here.
func (s *Scheduler) Run() error {
	glog.Infof("scheduler: listening on %s, routing=%s", s.r.Addr(), s.strategy.name())
	for dg := range s.r.Ch() {
		s.handle(dg)
	}
	glog.Info("scheduler: router closed, exiting")
	return nil
}

func (s *Scheduler) handle(dg transport.Datagram) {
	msg, err := wire.Decode(dg.Payload)
	if err != nil {
		glog.Errorf("scheduler: dropping malformed frame from %q: %v", dg.From, err)
		return
	}
	switch m := msg.(type) {
	case *wire.Ready:
		s.handleReady(dg.From, m)
	case *wire.ReadReq:
		s.handleRead(dg.From, m)
	case *wire.Result:
		s.handleResult(dg.From, m)
	default:
		glog.Errorf("scheduler: unknown message type %q from %q", msg.Type(), dg.From)
	}
}

// handleReady registers a worker; re-registration is a no-op. The first
// registration also flushes any reads parked while the cluster was empty.
func (s *Scheduler) handleReady(id []byte, m *wire.Ready) {
	key := string(id)
	if _, ok := s.workers[key]; ok {
		return
	}
	s.workers[key] = &workerState{id: key, idb: append([]byte(nil), id...), parallel: int(m.Parallel)}
	s.rebuildOrder()
	workersGauge.Set(float64(len(s.workers)))
	glog.Infof("scheduler: worker %q registered (parallel=%d, total=%d)", key, m.Parallel, len(s.workers))

	if len(s.pending) > 0 {
		parked := s.pending
		s.pending = nil
		pendingGauge.Set(0)
		for _, p := range parked {
			s.dispatch(p.clientID, p.req)
		}
	}
}

// handleRead routes one client request; with no live workers it parks the
// request instead of dropping it.
func (s *Scheduler) handleRead(clientID []byte, req *wire.ReadReq) {
	if len(s.workers) == 0 {
		glog.Warningf("scheduler: no workers for %s, parking", req.ReqID)
		s.pending = append(s.pending, pendingRead{clientID: append([]byte(nil), clientID...), req: req})
		pendingGauge.Set(float64(len(s.pending)))
		return
	}
	s.dispatch(clientID, req)
}

func (s *Scheduler) dispatch(clientID []byte, req *wire.ReadReq) {
	w := s.strategy.pick(s, req)
	debug.Assert(w != nil)

	w.load++
	w.history = append(w.history, req.BBox)
	if len(w.history) > s.cfg.HistoryLen {
		w.history = w.history[len(w.history)-s.cfg.HistoryLen:]
	}
	workerLoad.WithLabelValues(w.id).Set(float64(w.load))
	dispatchTotal.WithLabelValues(s.strategy.name()).Inc()

	req.ClientID = clientID
	b, err := wire.Encode(req)
	debug.AssertNoErr(err)
	if err := s.r.Send(w.idb, b); err != nil {
		// the connection is gone; purge the worker and try the rest.
		// in-flight requests on it are lost (client times out).
		glog.Errorf("scheduler: dispatch of %s to %q failed: %v", req.ReqID, w.id, err)
		s.purge(w)
		s.handleRead(clientID, req)
		return
	}
	if glog.V(4) {
		glog.Infof("scheduler: %s -> %q (load=%d)", req.ReqID, w.id, w.load)
	}
}

// handleResult decrements the worker's load (saturating at zero) and relays
// the payload to the originating client.
func (s *Scheduler) handleResult(workerID []byte, res *wire.Result) {
	if w, ok := s.workers[string(workerID)]; ok {
		if w.load > 0 {
			w.load--
		}
		workerLoad.WithLabelValues(w.id).Set(float64(w.load))
	}
	resultsTotal.WithLabelValues(res.Status).Inc()

	b, err := wire.Encode(res)
	debug.AssertNoErr(err)
	if err := s.r.Send(res.ClientID, b); err != nil {
		// client went away; its request already timed out on its side
		glog.Warningf("scheduler: dropping result %s for departed client %q: %v", res.ReqID, res.ClientID, err)
	}
}

func (s *Scheduler) purge(w *workerState) {
	delete(s.workers, w.id)
	s.rebuildOrder()
	workersGauge.Set(float64(len(s.workers)))
	workerLoad.DeleteLabelValues(w.id)
}

// rebuildOrder recomputes the sorted identity list used for stable
// tie-breaking and round-robin.
func (s *Scheduler) rebuildOrder() {
	s.order = s.order[:0]
	for id := range s.workers {
		s.order = append(s.order, id)
	}
	sort.Strings(s.order)
	if s.rr >= len(s.order) {
		s.rr = 0
	}
}
