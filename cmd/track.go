package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/partlab/partscope/internal/backend"
	"github.com/partlab/partscope/internal/config"
	"github.com/partlab/partscope/internal/logging"
	"github.com/partlab/partscope/internal/pipeline"
	"github.com/partlab/partscope/internal/session"
	"github.com/partlab/partscope/internal/tracker"
)

func newTrackCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "track <artifact-url>",
		Short: "Submits one analysis and follows its progress to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(cmd, args[0], notes)
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "free-text note attached to the analysis")
	return cmd
}

func runTrack(cmd *cobra.Command, artifactURL, notes string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, logger: logger}
	source, err := a.setupSource(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	submitter, err := backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.BackendTimeout(),
	})
	if err != nil {
		return fmt.Errorf("backend client init: %w", err)
	}

	manager := session.NewManager(submitter, source, pipeline.DefaultCatalog(), session.Config{
		QueueSize: cfg.Sessions.QueueSize,
		Logger:    logger.Named("session"),
	})
	sess, err := manager.Start(ctx, session.JobInput{
		ArtifactURL: artifactURL,
		Notes:       notes,
	})
	if err != nil {
		return fmt.Errorf("start analysis: %w", err)
	}
	fmt.Printf("tracking analysis %s\n", sess.JobID())

	sess.OnUpdate(func(_ string, snap tracker.Snapshot) {
		printSnapshot(snap)
	})
	printSnapshot(sess.Snapshot())

	select {
	case <-sess.Done():
	case <-ctx.Done():
		sess.Cancel()
		<-sess.Done()
	}

	final := sess.Snapshot()
	if final.OverallStatus == tracker.OverallError {
		return fmt.Errorf("analysis failed: %s", final.ErrorMessage)
	}
	fmt.Println("analysis completed")
	return nil
}

func printSnapshot(snap tracker.Snapshot) {
	fmt.Printf("[%5.1f%%] %s", snap.OverallPercent, snap.OverallStatus)
	for _, st := range snap.Stages {
		if st.Status == tracker.StatusInProgress {
			fmt.Printf("  %s", st.ID)
			if st.Message != "" {
				fmt.Printf(": %s", st.Message)
			}
		}
	}
	fmt.Println()
}
