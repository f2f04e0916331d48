// Command easee-log views and analyzes stream capture files.
//
// Capture files are written by easee-stream with the -capture flag.
//
// Usage:
//
//	easee-log <command> [flags] <file.ecap>
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSONL, YAML or CSV
//	filter   Filter capture file and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View only wire-layer events
//	easee-log view -layer wire stream.ecap
//
//	# Everything concerning one charger, as YAML
//	easee-log export -format yaml -device-id EH000001 stream.ecap
//
//	# Show statistics
//	easee-log stats stream.ecap
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nordicopen/pyeasee/cmd/easee-log/commands"
)

const usage = `easee-log - Easee Stream Capture Analyzer

Usage:
  easee-log <command> [flags] <file.ecap>

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSONL, YAML or CSV
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "easee-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// filterFlags registers the shared filter flags on fs.
func filterFlags(fs *flag.FlagSet) *commands.FilterOptions {
	var o commands.FilterOptions
	fs.StringVar(&o.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&o.DeviceID, "device-id", "", "Filter by charger ID")
	fs.StringVar(&o.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&o.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&o.Layer, "layer", "", "Filter by layer (transport, wire, stream)")
	fs.StringVar(&o.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&o.Category, "category", "", "Filter by category (message, control, state, error)")
	return &o
}

// parse parses args and returns the capture file path.
func parse(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func usageFor(fs *flag.FlagSet, text string) {
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, text)
		fs.PrintDefaults()
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	usageFor(fs, `easee-log view - View capture file in human-readable format

Usage:
  easee-log view [flags] <file.ecap>

Flags:
`)
	opts := filterFlags(fs)
	path := parse(fs, args)

	filter, err := opts.Build()
	if err != nil {
		fail(err)
	}
	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	usageFor(fs, `easee-log export - Export capture file to JSONL, YAML or CSV

Usage:
  easee-log export [flags] <file.ecap>

Flags:
`)
	format := fs.String("format", "jsonl", "Output format (jsonl, yaml, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	opts := filterFlags(fs)
	path := parse(fs, args)

	filter, err := opts.Build()
	if err != nil {
		fail(err)
	}
	if err := commands.RunExport(path, *format, *output, filter); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	usageFor(fs, `easee-log filter - Filter capture file and write to new file

Usage:
  easee-log filter -o <out.ecap> [flags] <file.ecap>

Flags:
`)
	output := fs.String("o", "", "Output file (required)")
	opts := filterFlags(fs)
	path := parse(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	filter, err := opts.Build()
	if err != nil {
		fail(err)
	}
	n, err := commands.RunFilter(path, *output, filter)
	if err != nil {
		fail(err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	usageFor(fs, `easee-log stats - Show statistics about the capture file

Usage:
  easee-log stats <file.ecap>

`)
	path := parse(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
