/*
Package metrics exposes Prometheus instrumentation for the scheduler,
worker, monitor, and API components, plus a small generic HealthChecker
used by their /health, /ready, and /live endpoints.

# Metrics

Scheduler:
  - testforge_tasks_scheduled_total{queue}
  - testforge_tasks_failed_total{queue}
  - testforge_scheduling_latency_seconds
  - testforge_queue_depth{queue}

Worker / runner pipeline:
  - testforge_stage_duration_seconds{stage}
  - testforge_stage_failures_total{stage,driver}
  - testforge_tasks_in_flight
  - testforge_terraform_init_duration_seconds

Monitor:
  - testforge_reconciliation_duration_seconds
  - testforge_reconciliation_cycles_total

Artifact uploader:
  - testforge_artifact_upload_duration_seconds
  - testforge_artifact_upload_failures_total

API:
  - testforge_api_requests_total{method,status}
  - testforge_api_request_duration_seconds{method}

Broker:
  - testforge_broker_publish_failures_total

# Usage

	timer := metrics.NewTimer()
	// ... run a stage ...
	timer.ObserveDurationVec(metrics.StageDuration, "install_package")

Health checks:

	metrics.RegisterComponent("broker", true, "")
	metrics.RegisterComponent("storage", true, "")
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())

Readiness treats "broker", "storage", and "api" as critical: any one
unregistered or unhealthy flips /ready to 503, independent of /health's
overall status.

Mount the registry itself with metrics.Handler() at /metrics.
*/
package metrics
