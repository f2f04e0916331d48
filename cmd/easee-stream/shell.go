package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/chzyer/readline"
)

// shell runs the interactive commands against a running app.
type shell struct {
	app *app
	out io.Writer
}

func newShell(a *app, out io.Writer) *shell {
	return &shell{app: a, out: out}
}

// run reads commands until quit, EOF or ctx cancellation. It returns errQuit
// when the user ends the session.
func (s *shell) run(ctx context.Context, rl *readline.Instance) error {
	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()

	s.printHelp()
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(s.out, "Exiting...")
			return errQuit
		}
		if s.exec(ctx, line) {
			return errQuit
		}
	}
}

// exec runs one command line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "subscribe", "sub":
		s.cmdSubscribe(args)
	case "unsubscribe", "unsub":
		s.cmdUnsubscribe(args)
	case "list", "ls":
		s.cmdList()
	case "chargers":
		s.cmdChargers(ctx)
	case "status":
		s.cmdStatus()
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, `
Commands:
  subscribe <id>...    - Subscribe to chargers
  unsubscribe <id>...  - Unsubscribe from chargers
  list                 - List subscriptions
  chargers             - List the account's chargers
  status               - Show connection status
  help                 - Show this help
  quit                 - Exit`)
}

func (s *shell) cmdSubscribe(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: subscribe <id>...")
		return
	}
	for _, id := range args {
		if err := s.app.sup.Subscribe(id, s.app.callback()); err != nil {
			fmt.Fprintf(s.out, "Subscribe %s failed: %v\n", id, err)
			continue
		}
		fmt.Fprintf(s.out, "Subscribed to %s\n", id)
	}
}

func (s *shell) cmdUnsubscribe(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: unsubscribe <id>...")
		return
	}
	for _, id := range args {
		if err := s.app.sup.Unsubscribe(id); err != nil {
			fmt.Fprintf(s.out, "Unsubscribe %s failed: %v\n", id, err)
			continue
		}
		fmt.Fprintf(s.out, "Unsubscribed from %s\n", id)
	}
}

func (s *shell) cmdList() {
	ids := s.app.sup.Subscriptions()
	if len(ids) == 0 {
		fmt.Fprintln(s.out, "No subscriptions")
		return
	}
	for _, id := range ids {
		fmt.Fprintf(s.out, "  %s\n", id)
	}
}

func (s *shell) cmdChargers(ctx context.Context) {
	chargers, err := s.app.client.Chargers(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "List chargers failed: %v\n", err)
		return
	}
	if len(chargers) == 0 {
		fmt.Fprintln(s.out, "No chargers")
		return
	}

	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRODUCT")
	for _, c := range chargers {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.ID, c.Name, c.ProductCode)
	}
	_ = tw.Flush()
}

func (s *shell) cmdStatus() {
	sup := s.app.sup
	fmt.Fprintf(s.out, "State:         %s\n", sup.State())
	fmt.Fprintf(s.out, "Connected:     %t\n", sup.IsConnected())
	fmt.Fprintf(s.out, "Failures:      %d\n", sup.Failures())
	fmt.Fprintf(s.out, "Subscriptions: %d\n", len(sup.Subscriptions()))
	if s.app.bridge != nil {
		st := s.app.bridge.Stats()
		fmt.Fprintf(s.out, "MQTT:          %d published, %d failed\n", st.Published, st.Failed)
	}
}
