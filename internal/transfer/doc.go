// Package transfer drains per-instance evidence queues into the remote store.
//
// A Supervisor ticks at a fixed interval and, while the authority is
// reachable, starts one worker goroutine per instance that has no worker
// running yet. A worker reads the instance info, asks the authority for the
// agent status and then either purges the local repository, leaves it for a
// later cycle, or transfers every queued record in id order through the
// Executor. Worker failures are logged and contained; the next tick starts a
// fresh worker for the instance.
package transfer
