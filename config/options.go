package config

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-cutout/controller"
	"github.com/nvr-ai/go-cutout/extract"
	"github.com/nvr-ai/go-cutout/images"
	"github.com/nvr-ai/go-cutout/refine"
	"github.com/nvr-ai/go-cutout/segmentation"
)

// ExtractOptions converts the extraction section.
func (c *Config) ExtractOptions() (extract.Options, error) {
	filter, err := images.ParseFilter(c.Extraction.Filter)
	if err != nil {
		return extract.Options{}, errors.Wrap(err, "extraction.filter")
	}
	return extract.Options{
		Decoder: images.DecoderOptions{
			Filter:            filter,
			NoiseFloor:        c.Extraction.NoiseFloor,
			NoiseFloorEnabled: c.Extraction.NoiseFloorEnabled,
			MaxPixels:         c.Processing.MaxImagePixels,
		},
		MinScore: c.Extraction.MinScore,
		Workers:  c.Extraction.Workers,
	}, nil
}

// RefineOptions converts the refinement section. Erasure masks never get a
// noise floor; the threshold does that job.
func (c *Config) RefineOptions() (refine.Options, error) {
	filter, err := images.ParseFilter(c.Refinement.Filter)
	if err != nil {
		return refine.Options{}, errors.Wrap(err, "refinement.filter")
	}
	return refine.Options{
		Decoder:   images.DecoderOptions{Filter: filter, MaxPixels: c.Processing.MaxImagePixels},
		Threshold: c.Refinement.Threshold,
	}, nil
}

// SegmentationClientConfig converts the segmentation section.
func (c *Config) SegmentationClientConfig() segmentation.Config {
	return segmentation.Config{
		BaseURL: c.Segmentation.BaseURL,
		ModelID: c.Segmentation.ModelID,
		Token:   c.Segmentation.Token,
		Timeout: c.Segmentation.Timeout,
	}
}

// ControllerConfig converts the processing and session sections.
func (c *Config) ControllerConfig() controller.Config {
	return controller.Config{
		MaxConcurrent:  c.Processing.MaxConcurrent,
		QueueTimeout:   c.Processing.QueueTimeout,
		MaxIdle:        c.Session.MaxIdle,
		MaxImagePixels: c.Processing.MaxImagePixels,
	}
}
