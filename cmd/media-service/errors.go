package main

import "errors"

var (
	// ErrDownload is returned when the original blob is unreachable or
	// the fetch returns a non-2xx status.
	ErrDownload = errors.New("original download failed")

	// ErrEnrichment is returned when the AI call fails or returns a
	// malformed or incomplete structure.
	ErrEnrichment = errors.New("enrichment failed")

	// ErrStorageWrite is returned when an object store upload fails.
	ErrStorageWrite = errors.New("object store write failed")
)
