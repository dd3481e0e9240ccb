package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/chaz8081/blegateway/internal/archive"
	"github.com/chaz8081/blegateway/internal/config"
	"github.com/chaz8081/blegateway/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/blegateway/config.yaml)")
	dbPath := flag.String("db", "", "path to the readings database (overrides store.path)")
	limit := flag.Int("limit", 0, "number of latest entries to show (default: store.read_limit)")
	flag.Parse()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *limit > 0 {
		cfg.Store.ReadLimit = *limit
	}

	if _, err := os.Stat(cfg.Store.Path); err != nil {
		log.Fatalf("Database file not found at %s", cfg.Store.Path)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	readings, err := archive.NewReader(st, nil).Latest(context.Background(), cfg.Store.ReadLimit)
	if err != nil {
		log.Fatalf("read: %v", err)
	}
	if err := archive.Render(os.Stdout, readings); err != nil {
		log.Fatalf("render: %v", err)
	}
}
