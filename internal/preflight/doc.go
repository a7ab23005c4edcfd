// Package preflight provides readiness checks for the filesystem paths and
// provider credentials folio depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs failures. Checks are
//     advisory there; the daemon still serves library and queue reads when
//     the provider key is missing.
//   - "folio config validate" renders the same results to the operator, and
//     with --probe adds CheckProvider, the only check that goes on the wire.
package preflight
