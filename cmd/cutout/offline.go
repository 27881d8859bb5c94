package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-cutout/archive"
	"github.com/nvr-ai/go-cutout/common"
	"github.com/nvr-ai/go-cutout/extract"
	"github.com/nvr-ai/go-cutout/refine"
	"github.com/nvr-ai/go-cutout/segmentation"
	"github.com/nvr-ai/go-cutout/util"
)

const offlineArchiveName = "objects.zip"

func extractCmd(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer util.Sync(logger)

	body, err := os.ReadFile(c.Path(flagCandidates))
	if err != nil {
		return errors.Wrap(err, "read candidates")
	}
	candidates, err := segmentation.ParseResponse(body)
	if err != nil {
		return err
	}

	opts, err := cfg.ExtractOptions()
	if err != nil {
		return err
	}
	out := extract.Dir(c.Path(flagOut))
	cutouts, err := extract.New(opts, logger).ExtractFile(c.Context, c.Path(flagImage), candidates, out)
	if err != nil {
		return err
	}
	if len(cutouts) == 0 {
		logger.Warn("no objects detected")
		return nil
	}

	paths := lo.Map(cutouts, func(ct common.Cutout, _ int) string { return out.Path(ct.Name) })
	zipPath, err := archive.Build(paths, out.Path(offlineArchiveName))
	if err != nil {
		return err
	}

	for _, ct := range cutouts {
		logger.Info("cutout written",
			zap.String("file", ct.Name),
			zap.Float64("score", ct.Score),
			zap.String("bounds", ct.Bounds.String()))
	}
	logger.Info("archive written", zap.String("path", zipPath), zap.Int("objects", len(cutouts)))
	return nil
}

func refineCmd(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer util.Sync(logger)

	mask, err := os.ReadFile(c.Path(flagMask))
	if err != nil {
		return errors.Wrap(err, "read mask")
	}
	opts, err := cfg.RefineOptions()
	if err != nil {
		return err
	}

	cutoutPath := c.Path(flagCutout)
	dir := extract.Dir(filepath.Dir(cutoutPath))
	cutout, err := refine.New(opts).Refine(c.Context, dir, filepath.Base(cutoutPath), mask)
	if err != nil {
		return err
	}

	logger.Info("cutout refined",
		zap.String("file", cutoutPath),
		zap.String("bounds", cutout.Bounds.String()))
	return nil
}
