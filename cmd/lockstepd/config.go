package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type serviceConfig struct {
	PlanPath       string
	Merged         bool
	Local          bool
	Steps          int64
	Progress       bool
	CollectTimings bool
	TimingsPath    string
	StatusAddr     string
	OutputPath     string
	Addrs          []string
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		PlanPath:    "plan.toml",
		Merged:      true,
		Local:       true,
		Steps:       1000,
		TimingsPath: "timings.db",
	}
}

type fileConfig struct {
	Plan           string   `toml:"plan"`
	Merged         bool     `toml:"merged"`
	Local          bool     `toml:"local"`
	Steps          int64    `toml:"steps"`
	Progress       bool     `toml:"progress"`
	CollectTimings bool     `toml:"collect_timings"`
	TimingsPath    string   `toml:"timings_path"`
	StatusAddr     string   `toml:"status_addr"`
	Output         string   `toml:"output"`
	Addrs          []string `toml:"addrs"`
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load coordinator config: %w", err)
	}

	if meta.IsDefined("plan") {
		cfg.PlanPath = strings.TrimSpace(raw.Plan)
	}
	if meta.IsDefined("merged") {
		cfg.Merged = raw.Merged
	}
	if meta.IsDefined("local") {
		cfg.Local = raw.Local
	}
	if meta.IsDefined("steps") {
		cfg.Steps = raw.Steps
	}
	if meta.IsDefined("progress") {
		cfg.Progress = raw.Progress
	}
	if meta.IsDefined("collect_timings") {
		cfg.CollectTimings = raw.CollectTimings
	}
	if meta.IsDefined("timings_path") {
		cfg.TimingsPath = strings.TrimSpace(raw.TimingsPath)
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("output") {
		cfg.OutputPath = strings.TrimSpace(raw.Output)
	}
	if meta.IsDefined("addrs") {
		cfg.Addrs = normalizeAddrs(raw.Addrs)
	}

	if cfg.PlanPath == "" {
		return serviceConfig{}, fmt.Errorf("coordinator config: plan path is required")
	}
	if cfg.Steps < 1 {
		return serviceConfig{}, fmt.Errorf("coordinator config: steps must be at least 1, got %d", cfg.Steps)
	}
	if !cfg.Local && len(cfg.Addrs) == 0 {
		return serviceConfig{}, fmt.Errorf("coordinator config: addrs are required unless local mode is set")
	}
	return cfg, nil
}

func normalizeAddrs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		v := strings.TrimSpace(a)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
