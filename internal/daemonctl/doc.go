// Package daemonctl controls a folio daemon from the outside: a typed HTTP
// client for the daemon API plus helpers that launch, wait for, and terminate
// the daemon process.
package daemonctl
