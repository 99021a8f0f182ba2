package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the YAML description of a plan and its task graph,
// loaded by `planloom plan create -f`.
type Manifest struct {
	Title             string         `yaml:"title"`
	Description       string         `yaml:"description"`
	MaxParallelAgents int            `yaml:"max_parallel_agents"`
	BranchStrategy    string         `yaml:"branch_strategy"`
	Tasks             []ManifestTask `yaml:"tasks"`
}

// ManifestTask is one task entry in a plan manifest.
type ManifestTask struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	BlockedBy   []string `yaml:"blocked_by"`
}

// loadManifest reads and validates a plan manifest. Tasks must be
// listed before any task that depends on them.
func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if m.Title == "" {
		return nil, fmt.Errorf("manifest %s: title is required", path)
	}
	seen := make(map[string]bool, len(m.Tasks))
	for i, t := range m.Tasks {
		if t.Title == "" {
			return nil, fmt.Errorf("manifest %s: task %d has no title", path, i)
		}
		if t.ID != "" && seen[t.ID] {
			return nil, fmt.Errorf("manifest %s: duplicate task id %q", path, t.ID)
		}
		for _, dep := range t.BlockedBy {
			if !seen[dep] {
				return nil, fmt.Errorf("manifest %s: task %q depends on %q which is not defined above it", path, t.ID, dep)
			}
		}
		if t.ID != "" {
			seen[t.ID] = true
		}
	}
	return &m, nil
}
