package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"blockvm/internal/bench"
	"blockvm/internal/frame"
)

type benchOptions struct {
	fn          string
	activations int
	parallel    int
	osr         string
	ui          string
	maxSteps    uint64
	lang        string
}

func newBenchCmd() *cobra.Command {
	var opts benchOptions
	cmd := &cobra.Command{
		Use:   "bench [flags] <fixture.toml> [args...]",
		Short: "Run many concurrent activations of one function",
		Long:  `Run the same call on independent frames in parallel, check that all activations agree and report totals`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, &opts, args[0], args[1:])
		},
	}
	cmd.Flags().StringVar(&opts.fn, "func", "", "function to run (default: main or the first one)")
	cmd.Flags().IntVarP(&opts.activations, "activations", "n", 0, "number of activations (0: [bench].activations)")
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "j", 0, "concurrent activations (0: [bench].parallel or GOMAXPROCS)")
	cmd.Flags().StringVar(&opts.osr, "osr", "auto", "on-stack replacement (auto|on|off)")
	cmd.Flags().StringVar(&opts.ui, "ui", "auto", "progress display (auto|on|off)")
	cmd.Flags().Uint64Var(&opts.maxSteps, "max-steps", 0, "abort an activation after this many blocks")
	cmd.Flags().StringVar(&opts.lang, "lang", "en", "language tag for number formatting")
	return cmd
}

func runBench(cmd *cobra.Command, opts *benchOptions, fixturePath string, rawArgs []string) (err error) {
	mode, err := readUIMode(opts.ui)
	if err != nil {
		return err
	}
	tag, err := language.Parse(opts.lang)
	if err != nil {
		return fmt.Errorf("invalid --lang: %w", err)
	}

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

	tiers, err := s.tiering(opts.osr)
	if err != nil {
		return err
	}
	vmOpts := s.vmOptions(false, opts.maxSteps)
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
	in, err := m.Interpreter(name)
	if err != nil {
		return err
	}

	req := &bench.Request{
		Interp:      in,
		NewFrame:    func(int) (*frame.Frame, error) { return m.NewFrame(name, args...) },
		Activations: firstPositive(opts.activations, s.settings.Bench.Activations, 1),
		Parallel:    firstPositive(opts.parallel, s.settings.Bench.Parallel, 0),
	}

	var rep bench.Report
	err = s.timer.Measure("bench", func() error {
		var err error
		if shouldUseTUI(mode) {
			rep, err = runBenchWithUI(contextOf(cmd), fmt.Sprintf("bench %s", name), req)
		} else {
			rep, err = bench.Run(contextOf(cmd), req)
		}
		return err
	})
	if err != nil {
		return err
	}
	if err := rep.Print(cmd.OutOrStdout(), tag); err != nil {
		return err
	}
	if tiers != nil {
		st := tiers.backend.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "  osr         %d hot, %d compiled, %d dropped, %d failed\n",
			st.Hot, st.Compiled, st.Dropped, st.Failed)
	}
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
