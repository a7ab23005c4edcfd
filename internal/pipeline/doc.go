// Package pipeline schedules claimed jobs across the streaming and batch
// lanes.
//
// The Manager polls the queue with one goroutine per lane, claims the oldest
// pending job through a guarded status transition, and hands it to the lane's
// handler while a background heartbeat keeps the claim alive. Streaming jobs
// are processed one chunk per claim: after a chunk the job is handed back to
// the queue so concurrent jobs interleave and a crash never loses more than
// the chunk in flight. Remaining work is always recomputed from recorded page
// results, which makes re-claiming a partially processed job a no-op for the
// pages already done.
//
// The streaming controller in this package runs the crop, transcription, and
// translation stages page by page against the synchronous provider endpoints.
// Batch jobs are delegated to a BatchRunner so the provider-side batch
// lifecycle stays in its own package.
package pipeline
