package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wayneos/wayned/internal/session"
)

var psAll bool

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List sessions",
	Long:  `List wayned sessions with their distribution, kernel state and activity counters.`,
	RunE:  runPs,
}

func init() {
	rootCmd.AddCommand(psCmd)
	psCmd.Flags().BoolVarP(&psAll, "all", "a", false, "include closed sessions")
}

func runPs(cmd *cobra.Command, args []string) error {
	store, err := session.NewStore()
	if err != nil {
		return fmt.Errorf("failed to access session store: %w", err)
	}

	sessions, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	printSessions(os.Stdout, sessions, psAll)
	return nil
}

func printSessions(out io.Writer, sessions []*session.Session, all bool) {
	shown := sessions[:0:0]
	for _, s := range sessions {
		if all || !s.Closed() {
			shown = append(shown, s)
		}
	}

	if len(shown) == 0 {
		fmt.Fprintln(out, "No active sessions.")
		return
	}

	// Create tabwriter for aligned output
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDISTRIBUTION\tSTATUS\tREMOTE\tSTARTED\tCOMMANDS\tRESTARTS\tCRASHES")
	_, _ = fmt.Fprintln(w, "--\t------------\t------\t------\t-------\t--------\t--------\t-------")

	for _, s := range shown {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			s.ID,
			s.Distribution,
			s.Status,
			s.RemoteAddr,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.Commands,
			s.Restarts,
			s.Crashes,
		)
	}

	_ = w.Flush()
}
