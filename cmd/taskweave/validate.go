package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/taskweave/pkg/schema"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate workflow documents without executing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := opts.output()
			results := make(map[string]*schema.ValidationResult, len(args))
			var rows [][]string
			invalid := 0
			for _, path := range args {
				data, err := loadDocument(path)
				if err != nil {
					return err
				}
				_, result := a.validator.ValidateDocument(data)
				results[path] = result
				if !result.Valid() {
					invalid++
				}
				for _, issue := range append(append([]schema.ValidationIssue{}, result.Errors...), result.Warnings...) {
					rows = append(rows, []string{path, string(issue.Severity), issue.Path, issue.Code, issue.Message})
				}
				if result.Valid() && len(result.Warnings) == 0 {
					rows = append(rows, []string{path, "ok", "-", "-", "-"})
				}
			}
			out.Print([]string{"FILE", "SEVERITY", "PATH", "CODE", "MESSAGE"}, rows, results)

			if invalid > 0 {
				return fmt.Errorf("%d of %d documents invalid", invalid, len(args))
			}
			return nil
		},
	}
}
