// Package common - Domain types and error kinds shared by the cut-out pipeline.
package common

import "github.com/pkg/errors"

// Error kinds. Every error returned by the pipeline packages wraps exactly one
// of these, so callers can branch with errors.Is regardless of the message.
var (
	// ErrMaskDecode marks mask bytes that are not a decodable raster.
	ErrMaskDecode = errors.New("mask decode error")
	// ErrExtraction marks structural extraction failures (unreadable source,
	// malformed candidate list, failed persistence).
	ErrExtraction = errors.New("extraction error")
	// ErrArchive marks archive build failures.
	ErrArchive = errors.New("archive error")
	// ErrNotFound marks a missing session or cutout.
	ErrNotFound = errors.New("not found")
	// ErrRefinement marks malformed erasure input or an unusable cutout.
	ErrRefinement = errors.New("refinement error")
	// ErrSegmentation marks a failed call to the remote segmentation service.
	ErrSegmentation = errors.New("segmentation error")
	// ErrBusy is returned when the processing queue is full.
	ErrBusy = errors.New("processing queue is full")
)
