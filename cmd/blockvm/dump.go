package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"blockvm/internal/cfg"
)

func newDumpCmd() *cobra.Command {
	var (
		fn       string
		showHash bool
	)
	cmd := &cobra.Command{
		Use:   "dump [flags] <fixture.toml>",
		Short: "Print the sealed graphs of a fixture",
		Long:  `Print every block with its nullable lists, terminator and phi batches, followed by the loops`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() { err = s.close(err) }()

			m, err := s.load(args[0])
			if err != nil {
				return err
			}
			names := m.Names()
			if fn != "" {
				name, err := pickFunc(m, fn)
				if err != nil {
					return err
				}
				names = []string{name}
			}
			out := cmd.OutOrStdout()
			for i, name := range names {
				if i > 0 {
					fmt.Fprintln(out)
				}
				f, _ := m.Func(name)
				if showHash {
					h := cfg.Hash(f.Func)
					fmt.Fprintf(out, "; hash %s\n", hex.EncodeToString(h[:]))
				}
				if err := cfg.Print(out, f.Func); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fn, "func", "", "dump only this function")
	cmd.Flags().BoolVar(&showHash, "hash", false, "print the content hash of each graph")
	return cmd
}
