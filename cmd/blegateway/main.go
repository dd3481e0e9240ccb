package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/blegateway/internal/ble"
	"github.com/chaz8081/blegateway/internal/ble/protocol"
	"github.com/chaz8081/blegateway/internal/config"
	"github.com/chaz8081/blegateway/internal/console"
	"github.com/chaz8081/blegateway/internal/metrics"
	"github.com/chaz8081/blegateway/internal/uplink"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/blegateway/config.yaml)")
	initConfig := flag.Bool("init", false, "write a default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
		} else {
			fmt.Println("Wrote default config to", path)
		}
		return
	}

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

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg)
	switch {
	case errors.Is(err, ble.ErrInterrupted):
		fmt.Println("\nInterrupted, session closed.")
	case err != nil:
		slog.Error("[MAIN] gateway stopped", "error", err)
		os.Exit(1)
	}
	fmt.Println("Goodbye!")
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New(prometheus.NewRegistry())
		g.Go(func() error { return m.Serve(ctx, cfg.Metrics.Addr) })
	}

	var pub uplink.Publisher = uplink.Nop{}
	if cfg.Uplink.Enabled() {
		p, err := uplink.Dial(cfg.Uplink)
		if err != nil {
			return err
		}
		defer p.Close()
		pub = uplink.NewBreaker(p, cfg.Uplink.Broker, cfg.Uplink.BreakerFailures, cfg.Uplink.BreakerCooldown)
	}

	target := cfg.Target()
	buttonTopic := uplink.Topic(cfg.Uplink.TopicPrefix, "button")
	buttonPub := uplink.NewThrottle(pub, cfg.Uplink.ButtonRate, cfg.Uplink.ButtonBurst)
	prompt := console.NewPrompt(os.Stdout, "")
	input := console.ReadLines(ctx, os.Stdin)

	onButton := console.ButtonHandler(prompt, func(node ble.NodeID, state protocol.ButtonState) {
		ev := uplink.ButtonEvent{Address: target, Node: int(node), State: state.String(), Time: time.Now().UTC()}
		if err := uplink.PublishJSON(buttonPub, buttonTopic, ev); err != nil {
			slog.Warn("[MAIN] button uplink failed", "error", err)
		}
	})

	opts := sessionOptions(cfg)
	opts.OnReady = func(node ble.NodeID) {
		prompt.Say("\nMonitoring for button clicks and awaiting commands (Ctrl+C to stop)...")
		prompt.Say("%s", console.HelpText)
		prompt.Show()
	}
	radio := ble.NewTinyGoAdapter()
	retry := ble.RetryOptions{Attempts: cfg.BLE.ReconnectAttempts, ReconnectMax: cfg.BLE.ReconnectMax}

	g.Go(func() error {
		// Ending the session stops the metrics server too.
		defer cancel()
		return ble.Supervise(ctx, retry, func(ctx context.Context) error {
			mgr := ble.NewManager(radio, opts, m)
			dispatcher := console.NewDispatcher(prompt, mgr, m)
			return mgr.Serve(ctx, onButton, input, func(line string) {
				if err := dispatcher.Handle(line); err != nil {
					slog.Debug("[MAIN] command not applied", "error", err)
				}
			})
		})
	})

	return g.Wait()
}

func sessionOptions(cfg *config.Config) ble.Options {
	opts := ble.DefaultOptions(cfg.Target())
	opts.Security = ble.SecurityLevel(cfg.BLE.SecurityLevel)
	opts.ScanLimit = cfg.BLE.ScanLimit
	opts.ScanTimeout = cfg.BLE.ScanTimeout
	opts.SettleDelay = cfg.BLE.SettleDelay
	opts.StrictSubscribe = cfg.BLE.StrictSubscribe
	opts.ButtonIndex = cfg.BLE.ButtonIndex
	opts.AlertIndex = cfg.BLE.AlertIndex
	opts.PollTimeout = cfg.Loop.PollTimeout
	opts.IdleSleep = cfg.Loop.IdleSleep
	opts.Validators = map[int]func([]byte) error{
		cfg.BLE.AlertIndex: protocol.ValidateAlertLevel,
	}
	return opts
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== blegateway ===")
	fmt.Printf("  Target:   %s (security %d)\n", cfg.BLE.TargetAddress, cfg.BLE.SecurityLevel)
	fmt.Printf("  Indices:  button %d, alert %d\n", cfg.BLE.ButtonIndex, cfg.BLE.AlertIndex)
	fmt.Printf("  Loop:     poll %s, idle %s\n", cfg.Loop.PollTimeout, cfg.Loop.IdleSleep)
	if cfg.Uplink.Enabled() {
		fmt.Printf("  Uplink:   %s (%s)\n", cfg.Uplink.Broker, cfg.Uplink.TopicPrefix)
	}
	if cfg.Metrics.Addr != "" {
		fmt.Printf("  Metrics:  http://%s/metrics\n", cfg.Metrics.Addr)
	}
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("==================")
}
