// Package operations orchestrates long-running cleaning and calculation tasks.
//
// A task is a pipeline of ordered stages registered per TaskKind:
//
//	cleaning:    precheck -> cleaning -> verification
//	calculation: data_loading -> statistical_calculation -> result_aggregation
//
// Manager accepts TaskRequests, coalesces or rejects duplicates per
// (kind, batch, school), and runs tasks on a JobQueue worker pool. Each stage
// reports progress in [0,100]; overall progress is the equal-weight mean of the
// stage values. Cancellation is cooperative: the task context is cancelled and
// the manager stops before the next stage.
//
// StatusBroadcaster holds the latest TaskSnapshot of every task. Status changes
// are written through to a TaskStore and StatusPublisher at once; progress-only
// updates are throttled.
package operations
