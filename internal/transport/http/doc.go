// Package http implements the ops HTTP surface of edustat: health probes,
// Prometheus metrics, task submission and status, and read access to
// persisted statistics.
//
// Handlers stay thin. They parse the request, call the task manager or the
// statistics reader, and render either the result or an errors.APIError
// derived from the AppError category of the failure.
//
// # Routes
//
//	GET  /healthz                              liveness
//	GET  /readyz                               storage ping
//	GET  /metrics                              Prometheus exposition
//	GET  /api/status                           orchestrator summary
//	GET  /api/tasks                            list (status, kind, batch_code, limit)
//	POST /api/tasks                            submit a cleaning or calculation task
//	GET  /api/tasks/{id}                       task snapshot
//	POST /api/tasks/{id}/cancel                cancel one task
//	POST /api/batches/{batch}/cancel           cancel every task of a batch
//	GET  /api/batches/{batch}/statistics       region or school statistics
//	GET  /api/batches/{batch}/export           CSV or XLSX export of all statistics
package http
