package main

import (
	"fmt"
	"time"

	"pagespin/internal/config"
	"pagespin/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// versionsCmd inspects the version history
var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List the stored content versions",
	Long: `Lists every stored content version in chronological order with its
id, author attribution (user, ai-writer, ai-reviewer), parent version,
and timestamp.`,
	RunE: runVersionsList,
}

var versionsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print the full content of a version",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionsShow,
}

var versionsRestoreCmd = &cobra.Command{
	Use:   "restore [id]",
	Short: "Re-append a past version as the newest one",
	Long: `Restores a version by promoting it: its content is appended as a new
version whose parent is the restored one. History is never rewritten.`,
	Args: cobra.ExactArgs(1),
	RunE: runVersionsRestore,
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load(config.Path(workspace))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.New(cfg.Store.DatabasePath)
}

func runVersionsList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if err := st.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("bootstrap collection: %w", err)
	}
	versions, err := st.List(ctx)
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}
	logger.Debug("listed versions", zap.Int("count", len(versions)))

	if len(versions) == 0 {
		fmt.Println("No versions yet.")
		return nil
	}
	for i, v := range versions {
		parent := v.ParentID
		if parent == "" {
			parent = "(root)"
		}
		fmt.Printf("%3d  %s  %-11s  parent=%s  %s\n",
			i+1, v.ID, v.Editor, parent,
			v.Timestamp.Format(time.RFC3339))
	}
	return nil
}

func runVersionsShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	v, err := st.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("id:      %s\neditor:  %s\nparent:  %s\ntime:    %s\n\n%s\n",
		v.ID, v.Editor, v.ParentID,
		v.Timestamp.Format(time.RFC3339), v.Content)
	return nil
}

func runVersionsRestore(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	v, err := st.Promote(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("restore %s: %w", args[0], err)
	}
	logger.Info("restored version", zap.String("source", args[0]), zap.String("new", v.ID))
	fmt.Printf("Restored %s as new version %s\n", args[0], v.ID)
	return nil
}
