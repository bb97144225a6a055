package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/mohammed-shakir/feature-aggregator/internal/aggregate"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/config"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/health"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/router"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/server"
	"github.com/mohammed-shakir/feature-aggregator/internal/crs"
	"github.com/mohammed-shakir/feature-aggregator/internal/dataset"
	"github.com/mohammed-shakir/feature-aggregator/internal/logger"
	"github.com/mohammed-shakir/feature-aggregator/internal/mapper"
	h3mapper "github.com/mohammed-shakir/feature-aggregator/internal/mapper/h3"
	"github.com/mohammed-shakir/feature-aggregator/internal/metrics"
	"github.com/mohammed-shakir/feature-aggregator/internal/query"
	"github.com/mohammed-shakir/feature-aggregator/internal/queryevents"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.Log.Level,
		Console:   cfg.Log.Console,
		SampleN:   cfg.Log.SampleN,
		Service:   "feature-aggregator",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	slog.SetDefault(appLog)

	appLog.Info("starting feature-aggregator",
		"addr", cfg.Addr,
		"version", Version,
		"dataset", cfg.Dataset.Path,
		"metric_crs", cfg.CRS.Metric,
		"display_crs", cfg.CRS.Display,
	)

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Path:    cfg.Metrics.Path,
		Build:   metrics.BuildInfo{Version: Version, Revision: Revision, BuildDate: BuildDate},
	})

	proj, err := crs.NewRegistry(cfg.CRS.CacheSize)
	if err != nil {
		appLog.Error("crs registry", "err", err)
		return 1
	}
	engine, err := aggregate.New(aggregate.Config{
		MetricCRS:  cfg.CRS.Metric,
		DisplayCRS: cfg.CRS.Display,
	}, proj, aggregate.WithLogger(appLog))
	if err != nil {
		appLog.Error("aggregation engine", "err", err)
		return 1
	}

	source := dataset.NewSource(dataset.Options{
		Timeout:  cfg.Dataset.Timeout,
		MaxBytes: cfg.Dataset.MaxBytes,
		Logger:   appLog,
	})

	var events queryevents.Sink = queryevents.Nop{}
	if cfg.Events.Enabled {
		pub, err := queryevents.NewPublisher(cfg.Events.BrokerList(), cfg.Events.Topic, cfg.Events.QueueSize, appLog)
		if err != nil {
			appLog.Error("query events", "err", err)
			return 1
		}
		events = pub
		appLog.Info("query events enabled", "brokers", cfg.Events.Brokers, "topic", cfg.Events.Topic)
	}
	defer func() {
		if err := events.Close(); err != nil {
			appLog.Warn("query events close", "err", err)
		}
	}()

	var cells mapper.Interface
	if cfg.Centroid.H3Res >= 0 {
		cells = h3mapper.New()
	}

	svc, err := query.New(query.Options{
		Loader:  source,
		Engine:  engine,
		Proj:    proj,
		PathFor: cfg.Dataset.PathFor,
		Cells:   cells,
		H3Res:   cfg.Centroid.H3Res,
		Events:  events,
		Logger:  appLog,
	})
	if err != nil {
		appLog.Error("query service", "err", err)
		return 1
	}

	var ready []health.Check
	for _, p := range cfg.Dataset.AllPaths() {
		ready = append(ready, health.Check{
			Name:  "dataset:" + p,
			Probe: func(ctx context.Context) error { return source.Stat(ctx, p) },
		})
	}

	layers := make([]string, 0, len(cfg.Dataset.LayerPaths()))
	for name := range cfg.Dataset.LayerPaths() {
		layers = append(layers, name)
	}
	sort.Strings(layers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = server.Run(ctx, cfg, appLog, server.Deps{
		Service: svc,
		Info: router.Info{
			Service:    "feature-aggregator",
			Version:    Version,
			MetricCRS:  engine.MetricCRS(),
			DisplayCRS: engine.DisplayCRS(),
			Layers:     layers,
		},
		Metrics: prov,
		Ready:   ready,
	})
	if err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
