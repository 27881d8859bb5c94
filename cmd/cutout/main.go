// Package main - cutout extracts segmented objects from images as
// transparent PNGs, either as an HTTP service or offline.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-cutout/config"
	"github.com/nvr-ai/go-cutout/util"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

const (
	flagConfig     = "config"
	flagImage      = "image"
	flagCandidates = "candidates"
	flagOut        = "out"
	flagCutout     = "cutout"
	flagMask       = "mask"
)

func main() {
	app := &cli.App{
		Name:    "cutout",
		Usage:   "extract segmented objects as transparent cutouts",
		Version: fmt.Sprintf("%s (%s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{config.EnvPrefix + "_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP service",
				Action: serve,
			},
			{
				Name:  "extract",
				Usage: "cut objects out of an image using a saved segmentation response",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: flagImage, Usage: "source image `FILE`", Required: true},
					&cli.PathFlag{Name: flagCandidates, Usage: "segmentation response JSON `FILE`", Required: true},
					&cli.PathFlag{Name: flagOut, Usage: "output `DIR`", Value: "cutouts"},
				},
				Action: extractCmd,
			},
			{
				Name:  "refine",
				Usage: "erase the pixels of a cutout covered by a mask",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: flagCutout, Usage: "cutout PNG `FILE`, rewritten in place", Required: true},
					&cli.PathFlag{Name: flagMask, Usage: "erasure mask `FILE`", Required: true},
				},
				Action: refineCmd,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "cutout: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by every command.
func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, nil, err
	}
	logger, err := util.NewLogger(cfg.Server.Mode)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize logger")
	}
	return cfg, logger, nil
}
