package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/ctxwindow/internal/config"
	"github.com/stellarlinkco/ctxwindow/internal/cron"
	"github.com/stellarlinkco/ctxwindow/internal/memory"
)

var rootCmd = &cobra.Command{
	Use:   "ctxwindow",
	Short: "ctxwindow - tiered context window memory",
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the example ingestion, retrieval and optimization flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(cmd.Context(), cmd.OutOrStdout())
	},
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnboard(cmd.OutOrStdout())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tier usage, metrics and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runStatus(cfg, cmd.OutOrStdout())
	},
}

var addCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Add a context segment",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		meta, err := parseMeta(metaFlags)
		if err != nil {
			return err
		}
		return runAdd(cfg, strings.Join(args, " "), meta, cmd.OutOrStdout())
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Retrieve the segments most relevant to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runQuery(cmd.Context(), cfg, strings.Join(args, " "), limitFlag, cmd.OutOrStdout())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run scheduled maintenance until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runMaintenance(ctx, cfg, cmd.OutOrStdout())
	},
}

var (
	configFlag string
	metaFlags  []string
	limitFlag  int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default $HOME/.ctxwindow/config.json)")
	addCmd.Flags().StringArrayVar(&metaFlags, "meta", nil, "Metadata as key=value (repeatable)")
	queryCmd.Flags().IntVarP(&limitFlag, "limit", "n", 5, "Maximum number of results")
	rootCmd.AddCommand(demoCmd, onboardCmd, statusCmd, addCmd, queryCmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFlag != "" {
		cfg, err = config.LoadConfigFrom(configFlag)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// session is a controller restored from the snapshot store, if one is configured.
type session struct {
	ctl   *memory.Controller
	store *memory.SnapshotStore
}

func openSession(cfg *config.Config) (*session, error) {
	ctl, err := memory.NewController(cfg.ContextConfig(), memory.WithCacheEntries(cfg.Memory.CacheEntries))
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}
	s := &session{ctl: ctl}
	if !cfg.Snapshot.Enabled {
		return s, nil
	}

	store, err := memory.NewSnapshotStore(cfg.Snapshot.Path)
	if err != nil {
		ctl.Close()
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	items, err := store.Load()
	if err == nil {
		err = ctl.Restore(items)
	}
	if err != nil {
		_ = store.Close()
		ctl.Close()
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	s.store = store
	return s, nil
}

func (s *session) save() error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(s.ctl.Snapshot())
}

func (s *session) Close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	s.ctl.Close()
}

func runOnboard(out io.Writer) error {
	cfgPath := config.ConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
		return nil
	}
	if err := config.SaveConfig(config.DefaultConfig()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(out, "Created config: %s\n", config.ConfigPath())
	return nil
}

func runStatus(cfg *config.Config, out io.Writer) error {
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return writeJSON(out, s.ctl.GetStatus())
}

func runAdd(cfg *config.Config, content string, meta map[string]any, out io.Writer) error {
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	id := s.ctl.AddContext(content, meta)
	if err := s.save(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	fmt.Fprintln(out, id)
	return nil
}

func runQuery(ctx context.Context, cfg *config.Config, query string, limit int, out io.Writer) error {
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	segs, err := s.ctl.RetrieveRelevant(ctx, query, limit)
	if err != nil {
		return err
	}
	// Retrieval updates relevance scores, which later optimization reads.
	if err := s.save(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	fmt.Fprintf(out, "Found %d relevant segments:\n", len(segs))
	for _, seg := range segs {
		fmt.Fprintln(out, formatSegment(seg))
	}
	return nil
}

func runMaintenance(ctx context.Context, cfg *config.Config, out io.Writer) error {
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	var saver cron.SnapshotSaver
	if s.store != nil {
		saver = s.store
	}
	svc := cron.NewService(cfg.ScheduleSpec(), s.ctl, saver)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Maintenance running (%s), next run %s\n", cfg.ScheduleSpec(), svc.Next().Format("15:04:05"))

	<-ctx.Done()
	svc.Stop()
	if err := s.save(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	state := svc.State()
	fmt.Fprintf(out, "Stopped after %d runs\n", state.Runs)
	return nil
}

func runDemo(ctx context.Context, out io.Writer) error {
	cfg := memory.DefaultContextConfig()
	cfg.MaxContextSize = 1000
	cfg.WorkingMemorySize = 2000
	cfg.CompressionStrategy = memory.CompressionAdaptive
	cfg.RetrievalStrategy = memory.RetrievalKeyword

	ctl, err := memory.NewController(cfg)
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}
	defer ctl.Close()

	fmt.Fprintln(out, "Adding context...")
	ctl.AddContext("This is important information about machine learning algorithms.",
		map[string]any{"type": "technical", "importance": "high"})
	ctl.AddContext("User preferences: likes technical content, prefers detailed explanations.",
		map[string]any{"type": "user_profile", "importance": "medium"})
	ctl.AddContext("Previous conversation covered neural networks and deep learning concepts.",
		map[string]any{"type": "conversation_history", "importance": "medium"})

	fmt.Fprintln(out, "\nRetrieving relevant context...")
	relevant, err := ctl.RetrieveRelevant(ctx, "machine learning", 5)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Found %d relevant segments:\n", len(relevant))
	for _, seg := range relevant {
		fmt.Fprintln(out, formatSegment(seg))
	}

	fmt.Fprintln(out, "\nAdding more content to trigger optimization...")
	for i := 0; i < 10; i++ {
		ctl.AddContext(fmt.Sprintf("Additional content item %d with various details about different topics.", i),
			map[string]any{"type": "filler", "importance": "low"})
	}

	fmt.Fprintln(out, "\nRunning optimization...")
	if err := writeJSON(out, ctl.Optimize()); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nFinal system status:")
	return writeJSON(out, ctl.GetStatus())
}

func formatSegment(seg *memory.Segment) string {
	id := seg.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("- %s: %s... (score: %.2f)", id, truncateRunes(seg.Content, 50), seg.RelevanceScore)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func parseMeta(pairs []string) (map[string]any, error) {
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --meta %q: want key=value", p)
		}
		meta[strings.TrimSpace(k)] = v
	}
	return meta, nil
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
