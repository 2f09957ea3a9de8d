package plan

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Load reads and validates a plan from a TOML file.
func Load(path string) (*Plan, error) {
	var p Plan
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
