package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rendis/taskweave/internal/steps"
)

func newExecutorCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executor",
		Short: "Manage step executors for extension step kinds",
	}
	cmd.AddCommand(newExecutorListCmd(opts), newExecutorDefineCmd(opts))
	return cmd
}

func newExecutorListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered and stored executors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			infos := a.registry.List()
			rows := make([][]string, len(infos))
			for i, info := range infos {
				rows[i] = []string{info.Kind, info.Origin, info.Description}
			}
			opts.output().Print([]string{"KIND", "ORIGIN", "DESCRIPTION"}, rows, infos)
			return nil
		},
	}
}

func newExecutorDefineCmd(opts *rootOptions) *cobra.Command {
	var (
		def     steps.Definition
		example string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "define",
		Short: "Compile, verify and store an expression executor",
		Long: `define registers an executor from flags or from a JSON/YAML definition file.
The source is compiled by its engine (expr, cel, jq or go) and run once on the
example payload before it is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				data, err := loadDocument(file)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(data, &def); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
			}
			if example != "" {
				if err := json.Unmarshal([]byte(example), &def.Example); err != nil {
					return fmt.Errorf("--example is not valid JSON: %w", err)
				}
			}
			def.Origin = steps.OriginUser

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.validator.ValidateExecutor(&def); err != nil {
				return err
			}
			exec, err := a.resolver.Define(cmd.Context(), def)
			if err != nil {
				return err
			}
			opts.output().Success(fmt.Sprintf("Executor %q defined (%s)", exec.Kind(), def.Engine))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&file, "file", "", "definition file (JSON or YAML, - for stdin)")
	f.StringVar(&def.Kind, "kind", "", "step tag the executor handles")
	f.StringVar(&def.Engine, "engine", "expr", "expr, cel, jq or go")
	f.StringVar(&def.Source, "source", "", "expression or Go source")
	f.StringVar(&def.Description, "description", "", "what the executor does")
	f.StringVar(&example, "example", "", "sample step payload as JSON")
	return cmd
}
