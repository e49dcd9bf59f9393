package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wayneos/wayned/internal/session"
)

var (
	pruneAll       bool
	pruneOlderThan time.Duration
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove session records",
	Long: `Remove the records of closed sessions.

Records of sessions that are still open are kept unless --all is given, which
is useful after the daemon was killed without a chance to close them.`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().BoolVarP(&pruneAll, "all", "a", false, "remove all session records (including open ones)")
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "only remove sessions started longer ago than this")
}

func runPrune(cmd *cobra.Command, args []string) error {
	store, err := session.NewStore()
	if err != nil {
		return fmt.Errorf("failed to access session store: %w", err)
	}

	_, err = prune(os.Stdout, store, pruneAll, pruneOlderThan, time.Now())
	return err
}

func prune(out io.Writer, store *session.Store, all bool, olderThan time.Duration, now time.Time) (int, error) {
	sessions, err := store.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	removedCount := 0
	for _, sess := range sessions {
		if !all && !sess.Closed() {
			continue
		}
		if olderThan > 0 && now.Sub(sess.StartedAt) < olderThan {
			continue
		}
		if err := store.Delete(sess.ID); err != nil {
			fmt.Fprintf(out, "Warning: failed to delete session %s: %v\n", sess.ID, err)
			continue
		}
		fmt.Fprintf(out, "Removed session: %s\n", sess.ID)
		removedCount++
	}

	if removedCount == 0 {
		fmt.Fprintln(out, "No sessions to remove.")
	} else {
		fmt.Fprintf(out, "Removed %d session(s).\n", removedCount)
	}
	return removedCount, nil
}
