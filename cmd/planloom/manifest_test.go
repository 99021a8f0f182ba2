package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
title: Ship feature
description: two stage rollout
max_parallel_agents: 2
branch_strategy: feature_branch
tasks:
  - id: schema
    title: Add schema
  - id: api
    title: Add API
    blocked_by: [schema]
`)
	m, err := loadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Title != "Ship feature" || m.MaxParallelAgents != 2 {
		t.Errorf("unexpected manifest header: %+v", m)
	}
	if len(m.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(m.Tasks))
	}
	if got := m.Tasks[1].BlockedBy; len(got) != 1 || got[0] != "schema" {
		t.Errorf("unexpected blocked_by: %v", got)
	}
}

func TestLoadManifestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing title", "tasks:\n  - id: a\n    title: A\n"},
		{"task without title", "title: p\ntasks:\n  - id: a\n"},
		{"duplicate task id", "title: p\ntasks:\n  - id: a\n    title: A\n  - id: a\n    title: B\n"},
		{"forward dependency", "title: p\ntasks:\n  - id: a\n    title: A\n    blocked_by: [b]\n  - id: b\n    title: B\n"},
		{"not yaml", "title: [unclosed\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadManifest(writeManifest(t, tc.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
