// Package cmn provides common constants, types, and utilities
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/P11011/Decoupled-CloudVolume/cmn/cos"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Routing strategy enum (see sched package for the implementations).
const (
	RoutingAffinity   = "affinity" // process affinity + least-load fallback (default)
	RoutingSpatial    = "spatial"  // cache-overlap + Morton-order fallback
	RoutingRoundRobin = "roundrobin"
)

const (
	DfltHistoryLen    = 5
	DfltLoadTolerance = 2
	DfltSHMThreshold  = 1_000_000 // elements; below it the client bypasses the broker
	DfltClientTimeout = cos.Duration(2 * time.Minute)
)

type (
	// WorkerPlan is one entry of the cluster spawn plan: `count` workers,
	// each self-reporting `parallel` as its fill/decompress thread hint.
	WorkerPlan struct {
		Parallel int `json:"parallel"`
		Count    int `json:"count"`
	}

	Config struct {
		BindAddr      string       `json:"bind_addr"`      // scheduler's router endpoint
		MetricsAddr   string       `json:"metrics_addr"`   // Prometheus /metrics endpoint ("" disables)
		Routing       string       `json:"routing"`        // one of the Routing* enum above
		HistoryLen    int          `json:"history_len"`    // per-worker bbox history depth
		LoadTolerance int          `json:"load_tolerance"` // affinity strategy: max load above cluster min
		SHMThreshold  int64        `json:"shm_threshold"`  // element count below which reads stay local
		ClientTimeout cos.Duration `json:"client_timeout"`
		LRUBytes      int64        `json:"lru_bytes"` // volume chunk-cache budget, per worker
		Workers       []WorkerPlan `json:"workers"`
	}
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GCO is the global config owner; the running value is immutable - updates
// go through Put with a fresh copy.
var GCO gco

type gco struct {
	v atomic.Pointer[Config]
}

func (g *gco) Get() *Config {
	if cfg := g.v.Load(); cfg != nil {
		return cfg
	}
	cfg := DefaultConfig()
	g.v.CompareAndSwap(nil, cfg)
	return g.v.Load()
}

func (g *gco) Put(cfg *Config) { g.v.Store(cfg) }

func DefaultConfig() *Config {
	return &Config{
		BindAddr:      "127.0.0.1:5555",
		Routing:       RoutingAffinity,
		HistoryLen:    DfltHistoryLen,
		LoadTolerance: DfltLoadTolerance,
		SHMThreshold:  DfltSHMThreshold,
		ClientTimeout: DfltClientTimeout,
		LRUBytes:      80 * cos.MiB,
		Workers:       []WorkerPlan{{Parallel: 4, Count: 2}},
	}
}

// LoadConfig reads the cluster configuration; missing fields keep their
// defaults. The result is also installed as the global config.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", path)
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	GCO.Put(cfg)
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Routing {
	case RoutingAffinity, RoutingSpatial, RoutingRoundRobin:
	default:
		return errors.Errorf("invalid routing strategy %q", c.Routing)
	}
	if c.HistoryLen <= 0 {
		c.HistoryLen = DfltHistoryLen
	}
	if c.LoadTolerance < 0 {
		return errors.Errorf("invalid load tolerance %d", c.LoadTolerance)
	}
	if c.SHMThreshold < 0 {
		return errors.Errorf("invalid shm threshold %d", c.SHMThreshold)
	}
	return nil
}
