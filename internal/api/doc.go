// Package api defines wire-format types and the operation services behind the
// daemon's HTTP surface. It translates queue and library records into
// transport-friendly DTOs and owns the request validation that sits between
// handlers and the stores, so HTTP, CLI, and tests all drive the same
// operations.
//
// # Key Types
//
// Job: transport representation of a queue entry with progress counters,
// per-page results, and batch bookkeeping when the job runs on the batch lane.
//
// Book/Page: library records in their exposed shape; crop bounds appear only
// when a crop window is set.
//
// GutterPreview: a detection preview with the derived crop windows, for
// operators deciding whether to split a spread.
//
// # Services
//
// JobService creates jobs and drives their lifecycle actions (cancel, pause,
// resume, retry, complete, refresh). Describing a batch job re-polls the
// provider first so status queries always reflect the freshest known state.
//
// PageService reads books and pages and executes split and revert requests.
//
// SweepService runs retention sweeps and dry-run audits.
//
// # Design Notes
//
// DTOs use snake_case JSON tags matching the stored result records. Internal
// enums (queue.Status, queue.JobType) are exposed as their lowercase string
// forms. Timestamps use RFC3339 with milliseconds. Validation failures are
// tagged services.ErrValidation and missing records services.ErrNotFound so
// transports can map them to status codes without string matching.
package api
