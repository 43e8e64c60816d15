package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/novaex/novaex/params"
	"github.com/novaex/novaex/pkg/candle"
	"github.com/novaex/novaex/pkg/kv"
	"github.com/novaex/novaex/pkg/storage"
	"github.com/novaex/novaex/pkg/util"
)

func main() {
	debug := flag.Bool("debug", false, "force DEBUG log level")
	flag.Parse()

	cfg := params.LoadFromEnv("")

	level := util.ParseLevel(cfg.LogLevel)
	if *debug {
		level = zap.DebugLevel
	}

	logger, err := util.NewLogger(level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	sugar.Infow("aggregator_starting",
		"redis", cfg.Redis.Addr,
		"s3_bucket", cfg.Aggregator.S3Bucket,
		"region", cfg.Aggregator.AWSRegion,
		"poll_ms", cfg.Aggregator.PollInterval.Milliseconds())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kv.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Engine.SessionOffset)
	if err != nil {
		sugar.Fatalw("redis_init_failed", "err", err)
	}
	defer store.Close()

	candles, err := storage.NewPebbleStore(filepath.Join(cfg.DataDir, "candles"), cfg.Engine.SessionOffset)
	if err != nil {
		sugar.Fatalw("candle_store_init_failed", "err", err)
	}
	defer candles.Close()

	blobs, err := storage.NewS3BlobStore(ctx, cfg.Aggregator.S3Bucket, cfg.Aggregator.AWSRegion)
	if err != nil {
		sugar.Fatalw("blob_store_init_failed", "err", err)
	}

	agg := candle.NewAggregator(store, candles, blobs, cfg.Aggregator.PollInterval, sugar)
	if err := agg.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Fatalw("aggregator_failed", "err", err)
	}
}
