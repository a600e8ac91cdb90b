package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/quatton/qci/apps/qcictl/internal/gitinfo"
	"github.com/quatton/qci/apps/qcictl/internal/watch"
	"github.com/spf13/cobra"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <pipeline>",
	Short: "Run a pipeline locally on every file change",
	Long: `Run a pipeline once, then again each time files in the repository
change. Paths excluded by .gitignore and the qci data directory are not
watched. Changes made during a run start another run once it ends.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		if remote {
			return errors.New("watch runs pipelines locally; drop --remote")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		root, err := watchRoot()
		if err != nil {
			return err
		}
		var ignore []string
		if dataDir, err := filepath.Abs(cfg.DataDir); err == nil {
			if rel, err := filepath.Rel(root, dataDir); err == nil && !strings.HasPrefix(rel, "..") {
				ignore = append(ignore, filepath.ToSlash(rel)+"/")
			}
		}

		w, err := watch.New(root, watchDebounce, logger, ignore...)
		if err != nil {
			return err
		}
		defer w.Close()
		changes := w.Changes(ctx)

		pipeline := args[0]
		runOnce := func() {
			ev := manualEvent(pipeline, nil)
			fillFromGit(&ev)
			if err := dispatchLocal(ctx, cfg, ev); err != nil && ctx.Err() == nil {
				logger.Warn(fmt.Sprintf("%s failed (exit %d), waiting for changes", pipeline, exitCode(err)))
			}
		}

		runOnce()
		logger.Info(fmt.Sprintf("👀 watching %s", root))
		for batch := range changes {
			logger.Info(fmt.Sprintf("🔄 %d file(s) changed", len(batch)), "first", batch[0])
			runOnce()
		}
		return nil
	},
}

func watchRoot() (string, error) {
	info, err := gitinfo.Detect(".")
	if err == nil && info.Root != "" {
		return info.Root, nil
	}
	return os.Getwd()
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 300*time.Millisecond, "Quiet period before a batch of changes triggers a run")
	rootCmd.AddCommand(watchCmd)
}
