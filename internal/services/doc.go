// Package services provides shared plumbing for folio's pipeline components:
// context annotation helpers and the sentinel error taxonomy used to classify
// stage failures into job status transitions.
package services
