package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed tracks terminal sync tasks by outcome and entity type
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_tasks_processed_total",
		Help: "Total number of sync tasks reaching a terminal state",
	}, []string{"outcome", "entity_type"})

	// TasksDeduplicated counts submissions rejected inside the dedup horizon
	// A spike here usually means an external platform is re-delivering webhooks
	TasksDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_tasks_deduplicated_total",
		Help: "Total number of task submissions dropped as duplicates",
	})

	// TaskFailures is the alertable counter for tasks that exhausted retries
	TaskFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_task_failures_total",
		Help: "Total number of sync tasks that failed terminally",
	})

	// RetryAttempts counts in-task retries against external platforms
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_retry_attempts_total",
		Help: "Total number of retried platform calls",
	}, []string{"kind"})

	// EntitiesPublished counts downstream updates by change kind
	EntitiesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_entities_published_total",
		Help: "Total number of canonical entities published downstream",
	}, []string{"change_kind"})

	// EntitiesSkipped counts no-op entities dropped by content-hash comparison
	EntitiesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_entities_skipped_total",
		Help: "Total number of unchanged entities skipped by hash comparison",
	})

	// FetchDuration measures one paginated fetch call against a platform
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_fetch_duration_seconds",
		Help:    "Duration of platform fetch calls in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform", "entity_type"})

	// LanesActive tracks how many per-integration lanes currently have a
	// running consumer goroutine
	LanesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_lanes_active",
		Help: "Number of lanes with an active consumer",
	})

	// WebhooksRejected counts ingestion rejections by reason (signature, payload)
	WebhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_webhooks_rejected_total",
		Help: "Total number of rejected webhook deliveries",
	}, []string{"reason"})

	// CredentialRefreshes counts token refresh outcomes
	CredentialRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_credential_refreshes_total",
		Help: "Total number of credential refresh attempts",
	}, []string{"status"})
)
