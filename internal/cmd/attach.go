package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wayneos/wayned/internal/distribution"
	"github.com/wayneos/wayned/internal/session"
	"github.com/wayneos/wayned/internal/transport"
)

const attachHelp = `Type a command and press enter to send it.
Lines starting with ':' are controls:
  :start    start the kernel
  :stop     stop the kernel
  :restart  restart the kernel
  :help     show this help
  ~.        detach from the session
`

var (
	attachURL          string
	attachToken        string
	attachDistribution string
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Open an interactive session on a running daemon",
	Long: `Open an interactive session on a running daemon.

The daemon starts a fresh kernel for the session and stops it again when you
detach with ~. or end input with Ctrl-D.`,
	Args: cobra.NoArgs,
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
	attachCmd.Flags().StringVar(&attachURL, "url", "ws://127.0.0.1:8000/ws", "session endpoint")
	attachCmd.Flags().StringVar(&attachToken, "token", "", "auth token (defaults to server.auth_token)")
	attachCmd.Flags().StringVarP(&attachDistribution, "distribution", "d", "", "kernel distribution")
}

type inputKind int

const (
	inputEmpty inputKind = iota
	inputCommand
	inputControl
	inputDetach
	inputHelp
)

// parseInput classifies one line typed at the attach prompt.
func parseInput(line string) (inputKind, string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return inputEmpty, ""
	case line == "~.":
		return inputDetach, ""
	case line == ":help" || line == ":?":
		return inputHelp, ""
	case strings.HasPrefix(line, ":"):
		return inputControl, strings.TrimPrefix(line, ":")
	default:
		return inputCommand, line
	}
}

// formatEvent renders an event for the terminal. Kernel output is printed
// verbatim; errors go to stderr.
func formatEvent(ev session.Event) (string, bool) {
	switch ev.Kind {
	case session.EventOutput:
		return ev.Text, false
	case session.EventResponse:
		return ev.Text + "\n", false
	case session.EventStatus:
		return fmt.Sprintf("[kernel %s]\n", ev.Text), false
	case session.EventError:
		return "error: " + strings.TrimRight(ev.Text, "\n") + "\n", true
	default:
		return "", false
	}
}

func runAttach(cmd *cobra.Command, args []string) error {
	// An empty distribution lets the daemon pick its default.
	var dist distribution.Distribution
	if attachDistribution != "" {
		d, err := distribution.Parse(attachDistribution)
		if err != nil {
			return err
		}
		dist = d
	}

	token := attachToken
	if token == "" {
		if cfg, err := loadConfig(); err == nil {
			token = cfg.Server.AuthToken
		}
	}

	client, err := transport.Dial(cmd.Context(), attachURL, token, dist)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintln(os.Stderr, "Attached. Type :help for controls, ~. to detach.")

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				if err := client.Err(); err != nil {
					return fmt.Errorf("connection lost: %w", err)
				}
				fmt.Fprintln(os.Stderr, "Session closed by server.")
				return nil
			}
			text, toStderr := formatEvent(ev)
			if toStderr {
				fmt.Fprint(os.Stderr, text)
			} else {
				fmt.Print(text)
			}

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			kind, value := parseInput(line)
			switch kind {
			case inputDetach:
				fmt.Fprintln(os.Stderr, "Detached.")
				return nil
			case inputHelp:
				fmt.Fprint(os.Stderr, attachHelp)
			case inputControl:
				ctl, err := session.ParseControl(value)
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}
				if err := client.SendControl(ctl); err != nil {
					return fmt.Errorf("failed to send control: %w", err)
				}
			case inputCommand:
				if err := client.SendCommand(value); err != nil {
					return fmt.Errorf("failed to send command: %w", err)
				}
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}
