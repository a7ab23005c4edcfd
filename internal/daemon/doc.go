// Package daemon coordinates the long-running folio services: the scheduler
// that drives streaming and batch jobs, the retention sweeper, and the HTTP
// API. A file lock enforces single-instance execution so two daemons never
// compete for queue claims.
//
// # Lifecycle
//
// New wires a daemon over already-constructed components. Start acquires the
// lock, launches the scheduler and sweeper under a shared context, and binds
// the API listener. Stop cancels that context, waits for in-flight work, and
// releases the lock. Close additionally closes the stores.
//
// # HTTP API
//
// The apiServer maps routes onto the api package services. Handlers decode
// the request, call one service operation, and encode the result; error
// classes from internal/services map onto status codes (validation 400,
// not found 404, everything else 500). A bearer token configured under
// paths.api_token protects every route.
package daemon
