package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"blockvm/internal/config"
	"blockvm/internal/fixture"
	"blockvm/internal/observ"
	"blockvm/internal/prof"
	"blockvm/internal/trace"
)

// session carries what every command sets up before it runs and tears down
// afterwards: settings, tracing, profiling and phase timings.
type session struct {
	cmd      *cobra.Command
	settings config.Config
	timer    *observ.Timer
	timings  bool
	profile  *prof.Session
	endTrace func(failed bool)
	span     *trace.Span
}

func openSession(cmd *cobra.Command) (*session, error) {
	root := cmd.Root()
	path, err := root.PersistentFlags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	timings, err := root.PersistentFlags().GetBool("timings")
	if err != nil {
		return nil, fmt.Errorf("failed to get timings flag: %w", err)
	}

	var settings config.Config
	if path != "" {
		settings, err = config.Load(path)
	} else {
		settings, err = config.Discover(".")
	}
	if err != nil {
		return nil, err
	}

	endTrace, err := setupTracing(cmd, settings.Trace)
	if err != nil {
		return nil, err
	}
	profile, err := setupProfiling(cmd)
	if err != nil {
		endTrace(false)
		return nil, err
	}
	s := &session{
		cmd:      cmd,
		settings: settings,
		timer:    observ.NewTimer(),
		timings:  timings,
		profile:  profile,
		endTrace: endTrace,
	}
	ctx := contextOf(cmd)
	s.span = trace.Begin(trace.FromContext(ctx), trace.ScopeRun, "blockvm "+cmd.Name(), trace.CurrentSpan(ctx).SpanID)
	if settings.Path != "" {
		s.span.WithExtra("config", settings.Path)
	}
	cmd.SetContext(trace.WithSpanContext(ctx, s.span.Context()))
	return s, nil
}

// events is the tracer setupTracing attached to the command's context.
func (s *session) events() trace.Tracer {
	return trace.FromContext(s.cmd.Context())
}

// close finishes the session and returns err together with any teardown
// failure.
func (s *session) close(err error) error {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	s.span.End(outcome)
	profErr := s.profile.Stop()
	if s.timings {
		if werr := s.timer.Write(s.cmd.ErrOrStderr()); werr != nil {
			profErr = errors.Join(profErr, werr)
		}
	}
	s.endTrace(err != nil)
	return errors.Join(err, profErr)
}

// load reads a fixture as a timed phase.
func (s *session) load(path string) (*fixture.Module, error) {
	var m *fixture.Module
	err := s.timer.Measure("load", func() error {
		var err error
		m, err = fixture.LoadFile(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	trace.Point(s.events(), trace.ScopeRun, "loaded", fmt.Sprintf("%s: %d functions", path, len(m.Names())))
	return m, nil
}

// pickFunc resolves the --func flag against the module.
func pickFunc(m *fixture.Module, name string) (string, error) {
	if name == "" {
		name = m.Main()
	}
	if _, ok := m.Func(name); !ok {
		return "", fmt.Errorf("%s: no function %q (have %v)", m.Path, name, m.Names())
	}
	return name, nil
}
