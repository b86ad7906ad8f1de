package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/ctxwindow/internal/config"
	"github.com/stellarlinkco/ctxwindow/internal/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := config.DefaultConfig()
	cfg.Memory.RetrievalStrategy = memory.RetrievalKeyword
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "snapshot.db")
	return cfg
}

func TestRunDemo(t *testing.T) {
	var out bytes.Buffer
	if err := runDemo(context.Background(), &out); err != nil {
		t.Fatalf("runDemo error: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Adding context...",
		"Found 2 relevant segments:",
		"This is important information about machine learn",
		"(score: 1.00)",
		`"optimization_completed": true`,
		"Final system status:",
		`"max_context_size": 1000`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("demo output missing %q", want)
		}
	}
}

func TestAddQueryStatus_PersistAcrossSessions(t *testing.T) {
	cfg := testConfig(t)

	var out bytes.Buffer
	if err := runAdd(cfg, "deploy checklist for the staging cluster", map[string]any{"source": "cli"}, &out); err != nil {
		t.Fatalf("runAdd error: %v", err)
	}
	id := strings.TrimSpace(out.String())
	if len(id) != 36 {
		t.Fatalf("unexpected id %q", id)
	}

	out.Reset()
	if err := runAdd(cfg, "lunch menu", nil, &out); err != nil {
		t.Fatalf("runAdd error: %v", err)
	}

	out.Reset()
	if err := runQuery(context.Background(), cfg, "staging deploy", 5, &out); err != nil {
		t.Fatalf("runQuery error: %v", err)
	}
	if !strings.Contains(out.String(), "Found 1 relevant segments:") || !strings.Contains(out.String(), id[:8]) {
		t.Fatalf("query output = %q", out.String())
	}

	out.Reset()
	if err := runStatus(cfg, &out); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	var status memory.Status
	if err := json.Unmarshal(out.Bytes(), &status); err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if status.MemoryUsage.Total != 2 || status.Metrics.TotalSegments != 2 {
		t.Fatalf("status = %+v", status)
	}
}

func TestRunQuery_InvalidLimit(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	if err := runQuery(context.Background(), cfg, "anything", 0, &out); err == nil {
		t.Fatal("expected error for zero limit")
	}
}

func TestRunStatus_SnapshotDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Enabled = false

	var out bytes.Buffer
	if err := runAdd(cfg, "ephemeral", nil, &out); err != nil {
		t.Fatalf("runAdd error: %v", err)
	}
	out.Reset()
	if err := runStatus(cfg, &out); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	if !strings.Contains(out.String(), `"total": 0`) {
		t.Fatalf("expected empty store without snapshot, got %s", out.String())
	}
	if _, err := os.Stat(cfg.Snapshot.Path); !os.IsNotExist(err) {
		t.Fatalf("snapshot file should not exist, stat err = %v", err)
	}
}

func TestRunStatus_BadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.MaxContextSize = 0
	var out bytes.Buffer
	if err := runStatus(cfg, &out); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestRunMaintenance_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Spec = "@every 1h"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() {
		done <- runMaintenance(ctx, cfg, &out)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runMaintenance error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runMaintenance did not return after cancel")
	}
	if !strings.Contains(out.String(), "Stopped after 0 runs") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunOnboard(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	var out bytes.Buffer
	if err := runOnboard(&out); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}
	if !strings.Contains(out.String(), "Created config") {
		t.Fatalf("output = %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".ctxwindow", "config.json")); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	out.Reset()
	if err := runOnboard(&out); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}
	if !strings.Contains(out.String(), "Config already exists") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta([]string{"type=note", "empty=", " spaced =x=y"})
	if err != nil {
		t.Fatalf("parseMeta error: %v", err)
	}
	if meta["type"] != "note" || meta["empty"] != "" || meta["spaced"] != "x=y" {
		t.Fatalf("meta = %v", meta)
	}

	for _, bad := range []string{"novalue", "=v"} {
		if _, err := parseMeta([]string{bad}); err == nil {
			t.Errorf("parseMeta(%q) expected error", bad)
		}
	}
}

func TestFormatSegment(t *testing.T) {
	seg := &memory.Segment{
		ID:             "0123456789abcdef",
		Content:        strings.Repeat("é", 60),
		RelevanceScore: 0.5,
	}
	got := formatSegment(seg)
	want := "- 01234567: " + strings.Repeat("é", 50) + "... (score: 0.50)"
	if got != want {
		t.Fatalf("formatSegment = %q, want %q", got, want)
	}
}
