// Package library persists books and their scanned pages. Pages carry the
// crop window, split lineage, and per-stage OCR/translation results that the
// pipeline controllers read and write.
package library
