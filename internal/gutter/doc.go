// Package gutter locates the dark binding band in two-page spread scans.
// Positions are reported on a normalized 0-1000 horizontal scale so callers
// never deal in source-image pixels.
package gutter
