// Package durable holds the pieces shared by the replay executor packages:
// the go-errors catalogue with its text codes and panic capture.
//
// The executor itself lives in the orchestration package. history defines the
// event and action shapes exchanged with a backend, task the awaitable task
// algebra, retry the retry policies, worker the work item harness and
// historystore the event log persistence.
package durable
