// plangen emits a small example build plan: two chunks, one boundary
// signal crossing between them, a probe on each side.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/BurntSushi/toml"

	"lockstep/internal/plan"
)

func examplePlan() plan.Plan {
	return plan.Plan{
		Version: plan.Version,
		Dt:      0.001,
		Chunks: []plan.ChunkSpec{
			{
				Rank: 0,
				Signals: []plan.SignalSpec{
					{Key: 1, Label: "source", Size: 2},
				},
				Operators: []plan.OpSpec{
					{Kind: "ramp", Dst: 1, Value: 0.5},
				},
				Sends: []plan.SendSpec{
					{Tag: 16, Dst: 1, Signal: 1},
				},
				Probes: []plan.ProbeSpec{
					{Key: 100, Signal: 1, Period: 1},
				},
			},
			{
				Rank: 1,
				Signals: []plan.SignalSpec{
					{Key: 1, Label: "source", Size: 2},
					{Key: 2, Label: "scaled", Size: 2},
				},
				Operators: []plan.OpSpec{
					{Kind: "scale", Dst: 2, Src: 1, Value: 2},
				},
				Recvs: []plan.RecvSpec{
					{Tag: 16, Src: 0, Signal: 1},
				},
				Probes: []plan.ProbeSpec{
					{Key: 101, Signal: 2, Period: 10},
				},
			},
		},
	}
}

func main() {
	output := flag.String("output", "plan.toml", "output path for the example plan")
	force := flag.Bool("force", false, "overwrite an existing file")
	flag.Parse()

	p := examplePlan()
	if err := p.Validate(); err != nil {
		log.Fatal(err)
	}

	if !*force {
		if _, err := os.Stat(*output); err == nil {
			log.Fatalf("%s exists, use -force to overwrite", *output)
		}
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(p); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote example plan to %s", *output)
}
