package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"blockvm/internal/cfg"
	"blockvm/internal/trace"
	"blockvm/internal/vm"
)

type runOptions struct {
	fn       string
	vmTrace  bool
	osr      string
	maxSteps uint64
	path     bool
	stats    bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [flags] <fixture.toml> [args...]",
		Short: "Execute a function of a fixture",
		Long:  `Load a fixture, bind the arguments to the function's parameters and dispatch it`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecution(cmd, &opts, args[0], args[1:])
		},
	}
	cmd.Flags().StringVar(&opts.fn, "func", "", "function to run (default: main or the first one)")
	cmd.Flags().BoolVar(&opts.vmTrace, "vm-trace", false, "trace every block and edge to stderr")
	cmd.Flags().StringVar(&opts.osr, "osr", "auto", "on-stack replacement (auto|on|off); auto follows [osr].enabled")
	cmd.Flags().Uint64Var(&opts.maxSteps, "max-steps", 0, "abort after this many blocks (0: [vm].max_steps)")
	cmd.Flags().BoolVar(&opts.path, "path", false, "print the visited blocks")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "print activation statistics")
	return cmd
}

func runExecution(cmd *cobra.Command, opts *runOptions, fixturePath string, rawArgs []string) (err error) {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() { err = s.close(err) }()

	m, err := s.load(fixturePath)
	if err != nil {
		return err
	}
	name, err := pickFunc(m, opts.fn)
	if err != nil {
		return err
	}
	args, err := m.ParseArgs(name, rawArgs)
	if err != nil {
		return err
	}

	vmOpts := s.vmOptions(opts.vmTrace, opts.maxSteps)
	vmOpts.RecordPath = opts.path
	tiers, err := s.tiering(opts.osr)
	if err != nil {
		return err
	}
	if tiers != nil {
		defer func() {
			if cerr := tiers.close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		m.Configure(vmOpts, tiers.tierFor)
	} else {
		m.Configure(vmOpts, nil)
	}
	m.SetOutput(cmd.OutOrStdout())

	var res vm.Result
	err = s.timer.Measure("run", func() error {
		var err error
		res, err = m.Call(name, args...)
		return err
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Value)
	if opts.path {
		fmt.Fprintf(out, "path: %s\n", joinBlocks(res.Path))
	}
	if opts.stats {
		fmt.Fprintf(out, "blocks: %d\nback edges: %d\n", res.Steps, res.BackEdges)
		if res.Transferred {
			fmt.Fprintf(out, "transferred at %s\n", res.TransferAt)
		}
	}
	return nil
}

// vmOptions builds interpreter options from flags and settings.
func (s *session) vmOptions(vmTrace bool, maxSteps uint64) vm.Options {
	opts := vm.Options{
		Events:   s.events(),
		Parent:   trace.CurrentSpan(s.cmd.Context()).SpanID,
		MaxSteps: s.settings.VM.MaxSteps,
	}
	if maxSteps > 0 {
		opts.MaxSteps = maxSteps
	}
	if vmTrace {
		opts.Trace = vm.NewTracer(s.cmd.ErrOrStderr())
	}
	return opts
}

// tiering starts the OSR backend unless mode turns it off.
func (s *session) tiering(mode string) (*tiering, error) {
	enabled := s.settings.OSR.Enabled
	switch strings.ToLower(mode) {
	case "", "auto":
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return nil, fmt.Errorf("invalid --osr value %q (expected auto|on|off)", mode)
	}
	if !enabled {
		return nil, nil
	}
	return newTiering(s.settings.OSR, s.events())
}

func joinBlocks(ids []cfg.BlockID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, " ")
}
