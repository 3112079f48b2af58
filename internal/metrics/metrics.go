package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Workflow metrics
var (
	// StepExecutionsTotal counts workflow steps by outcome: executed, memoized or failed.
	StepExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmind_workflow_step_executions_total",
			Help: "Workflow step executions by outcome",
		},
		[]string{"workflow", "step", "outcome"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docmind_workflow_step_duration_seconds",
			Help:    "Duration of executed workflow steps",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"workflow", "step"},
	)
)

// Pipeline metrics
var (
	ChunksIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmind_chunks_ingested_total",
			Help: "Chunks embedded and upserted into the vector store",
		},
		[]string{"collection"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docmind_query_duration_seconds",
			Help:    "End-to-end duration of query workflows",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode", "status"},
	)

	RetrievedContexts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docmind_retrieved_contexts",
			Help:    "Number of contexts passed to the model per query",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)
)

// Task and API metrics
var (
	TasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmind_tasks_enqueued_total",
			Help: "Tasks enqueued to the worker queue",
		},
		[]string{"type"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmind_api_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docmind_api_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
