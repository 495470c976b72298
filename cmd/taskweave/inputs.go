package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newInputsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inputs",
		Short: "Inspect the @{key} inputs workflows reference",
	}
	cmd.AddCommand(newInputsCheckCmd(opts))
	return cmd
}

// newInputsCheckCmd reports the inputs a stored workflow references and
// which are unset given the configured inputs plus --input flags.
func newInputsCheckCmd(opts *rootOptions) *cobra.Command {
	var inputs []string
	cmd := &cobra.Command{
		Use:   "check WORKFLOW",
		Short: "List referenced inputs and those still unset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, key := range sortedKeys(in) {
				if err := a.runner.SetInput(ctx, key, in[key]); err != nil {
					return err
				}
			}
			check, err := a.runner.CheckInputs(ctx, args[0])
			if err != nil {
				return err
			}

			missing := make(map[string]bool, len(check.Missing))
			for _, k := range check.Missing {
				missing[k] = true
			}
			rows := make([][]string, len(check.Referenced))
			for i, k := range check.Referenced {
				state := "set"
				if missing[k] {
					state = "unset (resolves to \"\")"
				}
				rows[i] = []string{k, state}
			}
			out := opts.output()
			out.Print([]string{"INPUT", "STATE"}, rows, check)
			if len(check.Missing) > 0 {
				out.Warn("unset inputs: " + strings.Join(check.Missing, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input value as KEY=VALUE (repeatable)")
	return cmd
}
