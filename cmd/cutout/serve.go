package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-cutout/config"
	"github.com/nvr-ai/go-cutout/controller"
	"github.com/nvr-ai/go-cutout/extract"
	"github.com/nvr-ai/go-cutout/profiler"
	"github.com/nvr-ai/go-cutout/refine"
	"github.com/nvr-ai/go-cutout/segmentation"
	"github.com/nvr-ai/go-cutout/server"
	"github.com/nvr-ai/go-cutout/session"
	"github.com/nvr-ai/go-cutout/util"
)

const shutdownTimeout = 10 * time.Second

func serve(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer util.Sync(logger)

	logger.Info("starting cutout server",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit))

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := session.NewStore(cfg.Session.BaseDir)
	if err != nil {
		return err
	}
	janitor := session.NewJanitor(store, cfg.Session.MaxIdle, cfg.Session.SweepInterval, logger)
	if err := janitor.Start(); err != nil {
		return err
	}
	defer func() {
		if err := janitor.Stop(); err != nil {
			logger.Warn("janitor shutdown", zap.Error(err))
		}
	}()

	if cfg.Segmentation.Token == "" {
		logger.Warn("no segmentation token configured; set " + config.TokenEnv)
	}
	var segmenter segmentation.Segmenter = segmentation.NewClient(cfg.SegmentationClientConfig())

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			logger.Info("redis connected successfully", zap.String("addr", cfg.Redis.Addr))
			segmenter = segmentation.NewCache(segmenter, rdb, cfg.Redis.TTL, logger.Named("cache"))
		}
	}

	extractOpts, err := cfg.ExtractOptions()
	if err != nil {
		return err
	}
	refineOpts, err := cfg.RefineOptions()
	if err != nil {
		return err
	}

	prof := profiler.New(profiler.Options{
		ReportInterval: cfg.Processing.ReportInterval,
	}, logger.Named("profiler"))
	prof.Start()
	defer prof.Stop()

	ctrlCfg := cfg.ControllerConfig()
	ctrlCfg.Profiler = prof

	ctrl := controller.New(
		ctrlCfg,
		store,
		segmenter,
		extract.New(extractOpts, logger.Named("extract")),
		refine.New(refineOpts),
		logger.Named("controller"),
	)

	srv := server.New(server.Config{
		Mode:          cfg.Server.Mode,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		AllowedExts:   cfg.Server.AllowedExts,
	}, ctrl, logger.Named("http"))

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
