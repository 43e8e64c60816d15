package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/novaex/novaex/params"
	"github.com/novaex/novaex/pkg/engine"
	"github.com/novaex/novaex/pkg/kv"
	"github.com/novaex/novaex/pkg/marketdata"
	"github.com/novaex/novaex/pkg/notify"
	"github.com/novaex/novaex/pkg/obs"
	"github.com/novaex/novaex/pkg/rpc"
	"github.com/novaex/novaex/pkg/storage"
	"github.com/novaex/novaex/pkg/stream"
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

	logPath := os.Getenv("LOG_FILE")
	if logPath == "" {
		logPath = filepath.Join(cfg.DataDir, "engined.log")
	}
	logger, err := util.NewLoggerWithFile(logPath, level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	sugar.Infow("engine_starting",
		"redis", cfg.Redis.Addr,
		"orders_stream", cfg.Streams.OrdersKey,
		"rpc_addr", cfg.RPCAddr,
		"ws_addr", cfg.WSAddr,
		"snapshot_interval", cfg.Engine.SnapshotInterval.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(registry)

	store, err := kv.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Engine.SessionOffset)
	if err != nil {
		sugar.Fatalw("redis_init_failed", "err", err)
	}
	defer store.Close()

	trades, err := storage.NewPebbleStore(filepath.Join(cfg.DataDir, "trades"), cfg.Engine.SessionOffset)
	if err != nil {
		sugar.Fatalw("trade_store_init_failed", "err", err)
	}
	defer trades.Close()

	// ---- Push fabric ----
	hub := notify.NewHub(sugar)
	go hub.Run()

	notifier := notify.NewNotifier(hub, cfg.Engine.NotifierQueue, metrics.NotifierDropped, sugar)
	notifierCtx, stopNotifier := context.WithCancel(context.Background())
	go notifier.Run(notifierCtx)

	go func() {
		if err := notify.Serve(cfg.WSAddr, hub); err != nil {
			sugar.Errorw("ws_server_failed", "err", err)
		}
	}()

	// ---- Market data pipeline ----
	producer := stream.NewProducer(store.Client(), stream.Topics{
		Fills:  cfg.Streams.FillsKey,
		Trades: cfg.Streams.TradesKey,
		Status: cfg.Streams.StatusKey,
		Depth:  cfg.Streams.DepthKey,
	}, sugar)

	handler := marketdata.NewHandler(context.Background(), store, trades, producer, notifier,
		metrics, util.RealClock{}, cfg.Engine.SessionOffset, sugar)

	core := engine.NewCore(handler.Listener())

	// ---- Restore books from cached snapshots ----
	restoreAll(ctx, core, store, sugar)

	// ---- Inbound intents ----
	dispatch := func(ctx context.Context, data []byte) error {
		metrics.OrdersReceived.Inc()

		in, err := stream.ParseIntent(data)
		if err != nil {
			metrics.OrdersRejected.Inc()
			return err
		}

		switch in.Action {
		case stream.ActionAdd:
			if err := core.AddOrder(in.Order()); err != nil {
				metrics.OrdersRejected.Inc()
				return err
			}
		case stream.ActionCancel:
			if !core.CancelOrder(in.Symbol, in.OrderID) {
				o := in.Order()
				ev := producer.PublishOrderStatus(ctx, o, "CANCEL_REJECTED", "order not found")
				notifier.Push(o.UserID, ev)
			}
		case stream.ActionReplace:
			if !core.ReplaceOrder(in.Symbol, in.OrderID, in.QtyDelta, in.NewPrice) {
				o := in.Order()
				ev := producer.PublishOrderStatus(ctx, o, "REPLACE_REJECTED", "order not found")
				notifier.Push(o.UserID, ev)
			}
		}
		return nil
	}

	consumer, err := stream.NewConsumer(store.Client(), cfg.Streams.OrdersKey,
		cfg.Streams.ConsumerGroup, cfg.Streams.ConsumerName, dispatch, sugar)
	if err != nil {
		sugar.Fatalw("consumer_init_failed", "err", err)
	}
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Fatalw("consumer_failed", "err", err)
		}
	}()

	// ---- Control plane ----
	server := rpc.NewServer(core, store, registry, sugar)
	go func() {
		if err := server.Start(cfg.RPCAddr); err != nil {
			sugar.Fatalw("rpc_server_failed", "err", err)
		}
	}()

	sugar.Info("engine_running")

	// ---- Background timers ----
	snapshotTicker := time.NewTicker(cfg.Engine.SnapshotInterval)
	metricsTicker := time.NewTicker(cfg.Engine.MetricsInterval)
	dayTicker := time.NewTicker(time.Minute)
	defer snapshotTicker.Stop()
	defer metricsTicker.Stop()
	defer dayTicker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-snapshotTicker.C:
			snapshotAll(context.Background(), core, store, metrics, sugar)
		case <-dayTicker.C:
			handler.RollDay()
		case <-metricsTicker.C:
			orders, tradesDone := core.Totals()
			metrics.SymbolCount.Set(float64(core.GetSymbolCount()))
			sugar.Infow("engine_stats",
				"symbols", core.GetSymbolCount(),
				"orders_processed", orders,
				"trades_executed", tradesDone,
				"notifier_pending", notifier.Pending())
		}
	}

	// ---- Shutdown: consumer stops with ctx; drain notifier, stop RPC,
	// final snapshot pass ----
	sugar.Info("shutting_down")

	stopNotifier()
	notifier.Drain(5 * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		sugar.Warnw("rpc_stop_failed", "err", err)
	}

	snapshotAll(context.Background(), core, store, metrics, sugar)

	sugar.Info("shutdown_complete")
}

// restoreAll replays every cached snapshot:* key (timestamps excluded).
func restoreAll(ctx context.Context, core *engine.Core, store kv.Store, sugar *zap.SugaredLogger) {
	keys, err := store.Keys(ctx, kv.SnapshotPrefix+"*")
	if err != nil {
		sugar.Warnw("snapshot_scan_failed", "err", err)
		return
	}

	restored := 0
	for _, key := range keys {
		if strings.HasSuffix(key, kv.TimestampSuffix) {
			continue
		}
		symbol := strings.TrimPrefix(key, kv.SnapshotPrefix)
		data, ok, err := store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		if err := core.RestoreOrderBook(symbol, data); err != nil {
			sugar.Warnw("restore_failed", "symbol", symbol, "err", err)
			continue
		}
		restored++
	}
	sugar.Infow("orderbooks_restored", "count", restored)
}

func snapshotAll(ctx context.Context, core *engine.Core, store kv.Store, metrics *obs.Metrics, sugar *zap.SugaredLogger) {
	for _, symbol := range core.GetAllSymbols() {
		data, err := core.SnapshotOrderBook(symbol)
		if err != nil {
			sugar.Warnw("snapshot_failed", "symbol", symbol, "err", err)
			continue
		}
		if data == "" {
			continue
		}
		if err := store.SaveSnapshot(ctx, symbol, data); err != nil {
			sugar.Warnw("snapshot_save_failed", "symbol", symbol, "err", err)
			continue
		}
		metrics.SnapshotsSaved.Inc()
	}
}
