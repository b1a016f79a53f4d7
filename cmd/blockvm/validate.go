package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <fixture.toml>...",
		Short: "Check that fixtures load and seal",
		Long:  `Load each fixture and run graph validation; report every file that fails`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() { err = s.close(err) }()

			out := cmd.OutOrStdout()
			var errs []error
			for _, path := range args {
				m, err := s.load(path)
				if err != nil {
					fmt.Fprintf(out, "FAIL %s\n", path)
					errs = append(errs, err)
					continue
				}
				for _, name := range m.Names() {
					f, _ := m.Func(name)
					fmt.Fprintf(out, "ok   %s %s (%d blocks, %d loops)\n", path, name, len(f.Func.Blocks), len(f.Func.Loops))
				}
			}
			return errors.Join(errs...)
		},
	}
}
