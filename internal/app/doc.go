// Package app wires the edustat components together and manages their lifecycle.
//
// New builds everything a command needs from a loaded configuration: the
// storage backend, the optional Redis status publisher, the statistics engine,
// the aggregation service and the task manager with both stage pipelines
// registered. Commands that only run one task use the Manager directly; the
// serve command calls Run, which also starts the ops HTTP server and blocks
// until SIGINT or SIGTERM.
//
// # Initialization Flow
//
//  1. Logging and OpenTelemetry from the configuration
//  2. Storage backend (sqlite or memory) and task store
//  3. Status publisher when Redis is enabled
//  4. Cleaner, statistics engine, consolidator and aggregation service
//  5. Task manager, pipelines and recovery of tasks left by a previous process
//  6. HTTP router and server (Start)
package app
