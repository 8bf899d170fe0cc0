/*
Package metrics provides Prometheus-based metrics collection for
gridserver operations, resource driver errors, and descriptor table
occupancy.

# Overview

The metrics package exports counters and histograms for operation
throughput and latency, driver errors broken down by driver kind
(spec §4.3), and gauges for the L1/L3 descriptor table sizes
(spec §4.4).

Architecture

	┌─────────────┐
	│  Collector  │  ← Main metrics aggregator
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/operations │
	│ - Histograms │         └─────────────────┘
	│ - Gauges     │
	└──────────────┘

# Core Components

Collector implements model.MetricsCollector and exports metrics
through a Prometheus registry scoped to this process.
*/
package metrics
