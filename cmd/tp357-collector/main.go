package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/blegateway/internal/archive"
	"github.com/chaz8081/blegateway/internal/ble"
	"github.com/chaz8081/blegateway/internal/config"
	"github.com/chaz8081/blegateway/internal/metrics"
	"github.com/chaz8081/blegateway/internal/store"
	"github.com/chaz8081/blegateway/internal/uplink"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/blegateway/config.yaml)")
	flag.Parse()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	fmt.Println("=== tp357-collector ===")
	fmt.Printf("  Filter:  %q\n", cfg.Collector.NameFilter)
	fmt.Printf("  Window:  %s\n", cfg.Collector.Window)
	fmt.Printf("  Store:   %s\n", cfg.Store.Path)
	fmt.Println("=======================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("[MAIN] collector stopped", "error", err)
		os.Exit(1)
	}
	fmt.Println("Goodbye!")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	var m *metrics.Metrics
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		m = metrics.New(prometheus.NewRegistry())
		g.Go(func() error { return m.Serve(ctx, cfg.Metrics.Addr) })
	}

	var pub uplink.Publisher
	if cfg.Uplink.Enabled() {
		p, err := uplink.Dial(cfg.Uplink)
		if err != nil {
			return err
		}
		defer p.Close()
		pub = uplink.NewBreaker(p, cfg.Uplink.Broker, cfg.Uplink.BreakerFailures, cfg.Uplink.BreakerCooldown)
	}

	radio := ble.NewTinyGoAdapter()
	if err := radio.Init(); err != nil {
		return fmt.Errorf("%w: %w", ble.ErrInitFailed, err)
	}
	defer radio.Shutdown()

	window := archive.NewWindow()
	collector := archive.NewCollector(window, cfg.Collector.NameFilter)
	recorder := archive.NewRecorder(st, pub, uplink.Topic(cfg.Uplink.TopicPrefix, "readings"), m)

	g.Go(func() error {
		return recorder.Run(ctx, window, cfg.Collector.Window)
	})
	g.Go(func() error {
		slog.Info("[MAIN] scanning for sensors", "filter", cfg.Collector.NameFilter)
		return radio.ScanAdvertisements(ctx, func(adv ble.Advertisement) {
			collector.Observe(adv)
		})
	})

	return g.Wait()
}
