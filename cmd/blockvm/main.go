package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"blockvm/internal/frame"
	"blockvm/internal/version"
	"blockvm/internal/vm"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "blockvm",
		Short:         "Basic-block interpreter with loop dispatch and on-stack replacement",
		Long:          `blockvm loads control-flow graphs from TOML fixtures and executes them block by block`,
		Version:       version.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newDumpCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newBenchCmd())
	root.AddCommand(newVersionCmd())

	pf := root.PersistentFlags()
	pf.String("config", "", "settings file (default: nearest blockvm.toml)")
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.Bool("timings", false, "show timing information")

	pf.String("trace", "", "trace output file (- for stderr)")
	pf.String("trace-level", "", "trace level (off|error|phase|detail|debug)")
	pf.String("trace-mode", "", "trace storage (stream|ring|both)")
	pf.Int("trace-ring-size", 0, "events kept in ring mode")
	pf.Duration("trace-heartbeat", 0, "emit heartbeat events at this interval")

	pf.String("cpu-profile", "", "write a CPU profile to file")
	pf.String("mem-profile", "", "write a heap profile to file")
	pf.String("runtime-trace", "", "write a Go runtime trace to file")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		mode, err := cmd.Flags().GetString("color")
		if err != nil {
			return err
		}
		return applyColorMode(mode)
	}
	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

func applyColorMode(mode string) error {
	switch mode {
	case "", "auto":
		color.NoColor = !isTerminal(os.Stdout) || os.Getenv("NO_COLOR") != ""
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
	}
	return nil
}

var (
	faultColor = color.New(color.FgRed, color.Bold)
	errorColor = color.New(color.FgRed)
)

// reportError prints faults with their trail and everything else on one line.
func reportError(w io.Writer, err error) {
	if f, ok := vm.AsFault(err); ok {
		faultColor.Fprint(w, f.Report())
		return
	}
	var exc *frame.Exception
	if errors.As(err, &exc) {
		errorColor.Fprintf(w, "uncaught exception: %s\n", exc.Payload)
		return
	}
	errorColor.Fprintf(w, "error: %v\n", err)
}

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
