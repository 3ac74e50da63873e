// Package sched implements the spatial scheduler
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package sched

import (
	"github.com/P11011/Decoupled-CloudVolume/cmn"
	"github.com/P11011/Decoupled-CloudVolume/cmn/cos"
	"github.com/P11011/Decoupled-CloudVolume/geom"
	"github.com/P11011/Decoupled-CloudVolume/wire"
)

// strategy picks a worker for one request. Implementations run on the
// scheduler's event-loop goroutine and may mutate its routing state
// (process map, round-robin cursor). Callers guarantee a non-empty
// worker table.
type strategy interface {
	name() string
	pick(s *Scheduler, req *wire.ReadReq) *workerState
}

func newStrategy(routing string) strategy {
	switch routing {
	case cmn.RoutingSpatial:
		return spatialStrategy{}
	case cmn.RoutingRoundRobin:
		return rrStrategy{}
	default:
		return affinityStrategy{}
	}
}

//////////////////////////////////////////
// affinity + least-load (the default)  //
//////////////////////////////////////////

// affinityStrategy keeps each client process pinned to one worker - its
// cache fills with that process's neighborhood - for as long as that worker
// stays within LoadTolerance of the least-loaded one; otherwise it rebinds
// to the least-loaded worker.
type affinityStrategy struct{}

func (affinityStrategy) name() string { return cmn.RoutingAffinity }

func (affinityStrategy) pick(s *Scheduler, req *wire.ReadReq) *workerState {
	var (
		key     = cos.AffinityKey(req.ReqID)
		minLoad = s.minLoad()
	)
	if id, ok := s.processMap[key]; ok {
		if w, live := s.workers[id]; live && w.load <= minLoad+s.cfg.LoadTolerance {
			return w
		}
	}
	// new process, departed worker, or bound worker too busy: rebind
	w := s.leastLoaded(minLoad)
	s.processMap[key] = w.id
	return w
}

func (s *Scheduler) minLoad() int {
	m := int(^uint(0) >> 1)
	for _, w := range s.workers {
		if w.load < m {
			m = w.load
		}
	}
	return m
}

// leastLoaded returns the first worker (in stable identity order) carrying
// the given minimum load.
func (s *Scheduler) leastLoaded(minLoad int) *workerState {
	for _, id := range s.order {
		if w := s.workers[id]; w.load == minLoad {
			return w
		}
	}
	return s.workers[s.order[0]]
}

////////////////////////////////
// spatial overlap + Z-order  //
////////////////////////////////

// spatialStrategy routes to the worker whose recent request history
// overlaps the new box the most - that worker's chunk cache already holds
// part of the source data. With no overlap anywhere it falls back to a
// Morton hash of the box center, so that nearby cold requests still land
// on the same worker.
type spatialStrategy struct{}

func (spatialStrategy) name() string { return cmn.RoutingSpatial }

func (spatialStrategy) pick(s *Scheduler, req *wire.ReadReq) *workerState {
	var (
		best    *workerState
		bestOvl int64
	)
	for _, id := range s.order {
		w := s.workers[id]
		var ovl int64
		for i := range w.history {
			ovl += geom.IntersectionVolume(&req.BBox, &w.history[i])
		}
		if ovl > bestOvl {
			best, bestOvl = w, ovl
		}
	}
	if best != nil {
		return best
	}
	h := geom.MortonHash(&req.BBox)
	return s.workers[s.order[h%uint64(len(s.order))]]
}

/////////////////
// round-robin //
/////////////////

// rrStrategy ignores locality entirely; kept as the baseline.
type rrStrategy struct{}

func (rrStrategy) name() string { return cmn.RoutingRoundRobin }

func (rrStrategy) pick(s *Scheduler, _ *wire.ReadReq) *workerState {
	w := s.workers[s.order[s.rr%len(s.order)]]
	s.rr++
	return w
}
