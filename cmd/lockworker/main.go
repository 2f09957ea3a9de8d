package main

import (
	"flag"
	"fmt"
	"os"

	"lockstep/internal/comm"
	"lockstep/internal/observability"
	"lockstep/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.toml", "worker config file")
	rank := flag.Int("rank", 0, "override the rank from the config")
	flag.Parse()

	log := observability.InitLogger("lockworker")

	cfg, err := loadWorkerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lockworker: %v\n", err)
		os.Exit(1)
	}
	if *rank > 0 {
		cfg.Rank = *rank
	}

	ctx, err := comm.Connect(cfg.Rank, cfg.Addrs, comm.DefaultMeshConfig(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lockworker: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	if err := worker.Serve(ctx, log); err != nil {
		fmt.Fprintf(os.Stderr, "lockworker: %v\n", err)
		os.Exit(1)
	}
}
