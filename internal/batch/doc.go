// Package batch runs OCR and translation jobs through the provider's
// asynchronous batch surface.
//
// A claimed batch job is built into one keyed request per page that still
// needs work; pages that cannot be prepared are recorded as failed results up
// front and pages whose outputs already exist are recorded as successes.
// After submission the external reference is persisted and the local claim is
// released, leaving the job in processing with no heartbeat while the
// provider holds the work. Refresh passes poll every submitted batch,
// write state changes back to the bookkeeping row, and walk jobs whose
// provider state reached an end state through the matching local transition.
// Successful batches run the completion path: provider results are written to
// the page records exactly once and the job is promoted through completed to
// saved. Cancellation asks the provider to stop as a courtesy and always
// cancels the local job.
package batch
