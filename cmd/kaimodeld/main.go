// Command kaimodeld is the model engine daemon.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kai-model/internal/approval"
	"kai-model/internal/config"
	"kai-model/internal/detect"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/logging"
	"kai-model/internal/session"
	"kai-model/internal/snapshot"
	"kai-model/internal/store"
	"kai-model/internal/worker"
	"kai-model/internal/wsevent"
)

var (
	configPath string
	debug      bool
	listenFlag string
	dataFlag   string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "kaimodeld",
	Short:         "kaimodeld - workspace model engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if listenFlag != "" {
			cfg.Listen = listenFlag
		}
		if dataFlag != "" {
			cfg.DataDir = dataFlag
		}
		if debug {
			cfg.Debug = true
		}

		logger, err = logging.New(cfg.Debug)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cfg, logger)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "kaimodeld %s\n", cfg.Version)
		return nil
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <workspace> <base-change-set> <head-change-set>",
	Short: "Show the entities that differ between two change sets",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChangeSets(cmd, args, func(ctx context.Context, db *store.DB, workspace ids.WorkspacePk, base, head ids.ChangeSetID) error {
			return runDiff(ctx, db, cmd.OutOrStdout(), workspace, base, head)
		})
	},
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals <workspace> <base-change-set> <head-change-set>",
	Short: "List the approvals the head change set needs",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := loadPolicy(cfg.PolicyPath)
		if err != nil {
			return err
		}
		return withChangeSets(cmd, args, func(ctx context.Context, db *store.DB, workspace ids.WorkspacePk, base, head ids.ChangeSetID) error {
			return runApprovals(ctx, db, policy, cmd.OutOrStdout(), workspace, base, head)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataFlag, "data", "", "Data directory (default: ./data)")
	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "Address to listen on (default: :7450)")

	rootCmd.AddCommand(serveCmd, versionCmd, diffCmd, approvalsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("kaimodeld starting",
		zap.String("listen", cfg.Listen),
		zap.String("data", cfg.DataDir),
		zap.Duration("workerInterval", cfg.WorkerInterval),
		zap.Int("workerBatch", cfg.WorkerBatchSize),
		zap.Int("workerConcurrency", cfg.WorkerConcurrency),
		zap.String("version", cfg.Version))

	policy, err := loadPolicy(cfg.PolicyPath)
	if err != nil {
		return err
	}
	logger.Info("approval policy loaded", zap.String("path", cfg.PolicyPath), zap.Int("rules", policy.Len()))

	db, err := store.OpenDataDir(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := worker.NewRunner(db, worker.NewSnapshotProcessor(db, logger), worker.Options{
		Interval:    cfg.WorkerInterval,
		BatchSize:   cfg.WorkerBatchSize,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
	})
	runner.Start(ctx)
	defer runner.Stop()

	hub := wsevent.NewHub(logger)
	defer hub.Close()

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      newRouter(&server{db: db, hub: hub, cfg: cfg, logger: logger}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("kaimodeld listening", zap.String("addr", cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}

	logger.Info("kaimodeld stopped")
	return nil
}

func loadPolicy(path string) (*approval.Policy, error) {
	if path == "" {
		return approval.DefaultPolicy(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening approval policy: %w", err)
	}
	defer f.Close()
	return approval.LoadPolicy(f)
}

type changeSetFunc func(ctx context.Context, db *store.DB, workspace ids.WorkspacePk, base, head ids.ChangeSetID) error

func withChangeSets(cmd *cobra.Command, args []string, fn changeSetFunc) error {
	var parsed [3]ids.ID
	for i, arg := range args {
		id, err := ids.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", arg, err)
		}
		parsed[i] = id
	}

	db, err := store.OpenDataDir(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(cmd.Context(), db, parsed[0], parsed[1], parsed[2])
}

func loadChangeSet(ctx context.Context, db *store.DB, workspace ids.WorkspacePk, changeSet ids.ChangeSetID) (*snapshot.WorkspaceSnapshot, error) {
	pointer, err := db.GetChangeSetPointer(ctx, workspace, changeSet)
	if err != nil {
		return nil, fmt.Errorf("change set %s: %w", changeSet, err)
	}
	return snapshot.Load(ctx, db, pointer.SnapshotAddress)
}

func changesBetween(ctx context.Context, db *store.DB, workspace ids.WorkspacePk, base, head ids.ChangeSetID) ([]detect.Change, *snapshot.WorkspaceSnapshot, error) {
	baseSnap, err := loadChangeSet(ctx, db, workspace, base)
	if err != nil {
		return nil, nil, err
	}
	headSnap, err := loadChangeSet(ctx, db, workspace, head)
	if err != nil {
		return nil, nil, err
	}
	return detect.Changes(baseSnap.CloneGraph(), headSnap.CloneGraph()), headSnap, nil
}

func runDiff(ctx context.Context, db *store.DB, out io.Writer, workspace ids.WorkspacePk, base, head ids.ChangeSetID) error {
	changes, _, err := changesBetween(ctx, db, workspace, base, head)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, detect.FormatText(changes))
	return err
}

// approvalsReport is the output of the approvals command.
type approvalsReport struct {
	Changes      detect.Summary         `json:"changes"`
	Requirements []approval.Requirement `json:"requirements"`
}

func runApprovals(ctx context.Context, db *store.DB, policy *approval.Policy, out io.Writer, workspace ids.WorkspacePk, base, head ids.ChangeSetID) error {
	changes, headSnap, err := changesBetween(ctx, db, workspace, base, head)
	if err != nil {
		return err
	}

	s := session.New(db, headSnap, session.Options{WorkspaceID: workspace, ChangeSetID: head, Logger: logger})
	defer s.Close()

	requirements, err := policy.List(ctx, s, relevant(changes))
	if err != nil {
		return err
	}
	if requirements == nil {
		requirements = []approval.Requirement{}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(approvalsReport{Changes: detect.Summarize(changes), Requirements: requirements})
}

// relevant drops changes to nodes that only exist to carry a requirement;
// editing a definition is governed by its entity.
func relevant(changes []detect.Change) []detect.Change {
	out := make([]detect.Change, 0, len(changes))
	for _, c := range changes {
		if c.EntityKind == graph.KindApprovalRequirementDefinition {
			continue
		}
		out = append(out, c)
	}
	return out
}
