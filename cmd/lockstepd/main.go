package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"lockstep/internal/comm"
	"lockstep/internal/coordinator"
	"lockstep/internal/observability"
	"lockstep/internal/plan"
	"lockstep/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.toml", "coordinator config file")
	planPath := flag.String("plan", "", "override the plan path from the config")
	steps := flag.Int64("steps", 0, "override the step count from the config")
	flag.Parse()

	log := observability.InitLogger("lockstepd")

	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lockstepd: %v\n", err)
		os.Exit(1)
	}
	if *planPath != "" {
		cfg.PlanPath = *planPath
	}
	if *steps > 0 {
		cfg.Steps = *steps
	}

	if err := run(cfg, log); err != nil {
		fmt.Fprintf(os.Stderr, "lockstepd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg serviceConfig, log zerolog.Logger) error {
	p, err := plan.Load(cfg.PlanPath)
	if err != nil {
		return err
	}

	var status *observability.StatusServer
	if cfg.StatusAddr != "" {
		status = observability.NewStatusServer("lockstepd", log)
		go func() {
			if err := status.Serve(cfg.StatusAddr); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	ctx, workersDone, err := buildMesh(cfg, p, log)
	if err != nil {
		return err
	}

	coord := coordinator.New(ctx, p, coordinator.Options{
		Merged:         cfg.Merged,
		CollectTimings: cfg.CollectTimings,
		TimingsPath:    cfg.TimingsPath,
	}, log)

	setState(status, "setup", cfg.Steps)
	if err := coord.Setup(); err != nil {
		return err
	}

	setState(status, "running", cfg.Steps)
	if err := coord.RunSteps(cfg.Steps, cfg.Progress); err != nil {
		return err
	}

	setState(status, "gathering", cfg.Steps)
	probes, err := coord.GatherProbes()
	if err != nil {
		return err
	}

	if err := writeProbes(cfg.OutputPath, probes, log); err != nil {
		return err
	}

	setState(status, "done", cfg.Steps)
	if err := coord.Close(); err != nil {
		return err
	}
	if workersDone != nil {
		<-workersDone
	}
	return nil
}

// buildMesh connects the coordinator's comm context. In local mode the
// whole mesh lives in this process and workers run as goroutines.
func buildMesh(cfg serviceConfig, p *plan.Plan, log zerolog.Logger) (*comm.Context, chan struct{}, error) {
	size := p.NumRanks()
	if !cfg.Merged {
		size++
	}

	if cfg.Local {
		ctxs, err := comm.PipeMesh(size, log)
		if err != nil {
			return nil, nil, err
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			errs := make(chan error, size-1)
			for rank := 1; rank < size; rank++ {
				go func(c *comm.Context) {
					errs <- worker.Serve(c, log)
				}(ctxs[rank])
			}
			for i := 0; i < size-1; i++ {
				if err := <-errs; err != nil {
					log.Error().Err(err).Msg("local worker failed")
				}
			}
		}()
		return ctxs[0], done, nil
	}

	if len(cfg.Addrs) != size {
		return nil, nil, fmt.Errorf("lockstepd: plan needs %d processes, config lists %d addrs", size, len(cfg.Addrs))
	}
	ctx, err := comm.Connect(0, cfg.Addrs, comm.DefaultMeshConfig(), log)
	if err != nil {
		return nil, nil, err
	}
	return ctx, nil, nil
}

func setState(status *observability.StatusServer, phase string, steps int64) {
	if status == nil {
		return
	}
	status.SetState(observability.RunState{Phase: phase, Steps: steps})
}

// writeProbes dumps the merged probe mapping as JSON, to a file when
// configured, otherwise as a per-probe summary line in the log.
func writeProbes(path string, probes map[uint64][][]float64, log zerolog.Logger) error {
	if path == "" {
		for key, samples := range probes {
			log.Info().Uint64("probe", key).Int("samples", len(samples)).Msg("probe gathered")
		}
		return nil
	}
	out := make(map[string][][]float64, len(probes))
	for key, samples := range probes {
		out[fmt.Sprintf("%d", key)] = samples
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Info().Str("path", path).Int("probes", len(probes)).Msg("probe data written")
	return nil
}
