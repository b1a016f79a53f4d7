package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"blockvm/internal/config"
	"blockvm/internal/trace"
)

// setupTracing builds the tracer from the trace flags, falling back to the
// [trace] section of the settings, and attaches it to the command's context
// where trace.FromContext finds it. It returns a cleanup function; on
// failure of the command the cleanup dumps a ring buffer.
func setupTracing(cmd *cobra.Command, settings config.TraceConfig) (func(failed bool), error) {
	root := cmd.Root()

	// Read trace configuration from flags
	traceOutput, err := root.PersistentFlags().GetString("trace")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := root.PersistentFlags().GetString("trace-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := root.PersistentFlags().GetString("trace-mode")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	ringSize, err := root.PersistentFlags().GetInt("trace-ring-size")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	heartbeatInterval, err := root.PersistentFlags().GetDuration("trace-heartbeat")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	if traceOutput == "" {
		traceOutput = settings.Output
	}
	if levelStr == "" {
		levelStr = settings.Level
		// An output without a level means the user wants phase events.
		if levelStr == "off" && traceOutput != "" {
			levelStr = "phase"
		}
	}
	if modeStr == "" {
		modeStr = settings.Mode
	}
	if ringSize == 0 {
		ringSize = settings.RingSize
	}
	if heartbeatInterval == 0 {
		heartbeatInterval = settings.HeartbeatInterval()
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace level: %w", err)
	}
	if level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(contextOf(cmd), trace.Nop))
		return func(bool) {}, nil
	}
	mode, err := trace.ParseMode(modeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace mode: %w", err)
	}

	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		OutputPath: traceOutput,
		RingSize:   ringSize,
		Heartbeat:  heartbeatInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	cmd.SetContext(trace.WithTracer(contextOf(cmd), tracer))

	var heartbeat *trace.Heartbeat
	if heartbeatInterval > 0 {
		heartbeat = trace.StartHeartbeat(tracer, heartbeatInterval)
	}

	cleanup := func(failed bool) {
		// Stop heartbeat first
		if heartbeat != nil {
			heartbeat.Stop()
		}
		if failed {
			if ring := ringOf(tracer); ring != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "trace: last events before the failure:")
				if err := ring.Dump(cmd.ErrOrStderr(), trace.FormatText); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "trace: dump error: %v\n", err)
				}
			}
		}
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return cleanup, nil
}

func ringOf(t trace.Tracer) *trace.RingTracer {
	switch t := t.(type) {
	case *trace.RingTracer:
		return t
	case *trace.MultiTracer:
		return t.Ring()
	default:
		return nil
	}
}
