// Copyright 2026 QueryCanvas
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus instrumentation for the query
// orchestration engine. All collectors are registered on the default
// registry; the HTTP layer serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts processed natural-language queries by server,
	// query type, and outcome ("ok" or the error kind).
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycanvas_queries_total",
		Help: "Natural-language queries processed, by server, type, and outcome.",
	}, []string{"server", "query_type", "outcome"})

	// QueryDuration tracks end-to-end query processing latency.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "querycanvas_query_duration_seconds",
		Help:    "End-to-end query processing latency.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"server", "query_type"})

	// ToolCallsTotal counts tool-server round trips by tool name and outcome.
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycanvas_tool_calls_total",
		Help: "Tool-server tool invocations, by tool and outcome.",
	}, []string{"tool", "outcome"})

	// ChainIterations observes how many tool-use loop rounds each
	// backend call consumed before resolving.
	ChainIterations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "querycanvas_chain_iterations",
		Help:    "Tool-use loop iterations per backend invocation.",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	}, []string{"backend"})

	// SQLRefinements counts legacy-mode SQL repair round trips.
	SQLRefinements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querycanvas_sql_refinements_total",
		Help: "SQL statements repaired through the single refinement round trip.",
	})
)
