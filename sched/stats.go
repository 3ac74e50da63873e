// Package sched implements the spatial scheduler
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package sched

import (
	"net/http"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cv", Subsystem: "sched", Name: "dispatch_total",
		Help: "Read requests dispatched to workers, by routing strategy.",
	}, []string{"strategy"})

	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cv", Subsystem: "sched", Name: "results_total",
		Help: "Worker results relayed to clients, by status.",
	}, []string{"status"})

	workerLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cv", Subsystem: "sched", Name: "worker_load",
		Help: "Outstanding (unacknowledged) requests per worker.",
	}, []string{"worker"})

	workersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cv", Subsystem: "sched", Name: "workers",
		Help: "Registered live workers.",
	})

	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cv", Subsystem: "sched", Name: "pending_reads",
		Help: "Reads parked while no worker is registered.",
	})
)

// ServeMetrics exposes the Prometheus registry on addr/metrics; it never
// returns unless the listener fails.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		glog.Errorf("scheduler: metrics endpoint: %v", err)
	}
}
