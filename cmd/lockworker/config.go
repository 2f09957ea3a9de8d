package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type workerConfig struct {
	Rank  int
	Addrs []string
}

type fileConfig struct {
	Rank  int      `toml:"rank"`
	Addrs []string `toml:"addrs"`
}

func loadWorkerConfig(path string) (workerConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return workerConfig{}, fmt.Errorf("load worker config: %w", err)
	}

	cfg := workerConfig{Rank: -1}
	if meta.IsDefined("rank") {
		cfg.Rank = raw.Rank
	}
	if meta.IsDefined("addrs") {
		for _, a := range raw.Addrs {
			v := strings.TrimSpace(a)
			if v != "" {
				cfg.Addrs = append(cfg.Addrs, v)
			}
		}
	}

	if cfg.Rank < 1 || cfg.Rank >= len(cfg.Addrs) {
		return workerConfig{}, fmt.Errorf("worker config: rank %d invalid for %d addrs", cfg.Rank, len(cfg.Addrs))
	}
	return cfg, nil
}
