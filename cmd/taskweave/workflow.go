package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rendis/taskweave/pkg/schema"
)

func newWorkflowCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Manage stored workflows",
	}
	cmd.AddCommand(
		newWorkflowListCmd(opts),
		newWorkflowGetCmd(opts),
		newWorkflowPutCmd(opts),
		newWorkflowDeleteCmd(opts),
	)
	return cmd
}

func newWorkflowListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, len(list))
			for i, w := range list {
				rows[i] = []string{w.Name, w.EntryPoint, strconv.Itoa(w.TaskCount), formatTime(&w.UpdatedAt), w.Description}
			}
			opts.output().Print([]string{"NAME", "ENTRY", "TASKS", "UPDATED", "DESCRIPTION"}, rows, list)
			return nil
		},
	}
}

func newWorkflowGetCmd(opts *rootOptions) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Print a stored workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := opts.output()
			if !asYAML || opts.jsonOutput {
				out.JSON(rec.Workflow)
				return nil
			}
			data, err := toYAML(rec.Workflow)
			if err != nil {
				return err
			}
			out.Raw(data)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print as YAML")
	return cmd
}

func newWorkflowPutCmd(opts *rootOptions) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "put NAME FILE",
		Short: "Validate a JSON or YAML document and store it under NAME",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := loadDocument(args[1])
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := opts.output()
			result, err := a.runner.SaveWorkflow(cmd.Context(), args[0], description, data)
			if result != nil {
				printIssues(out, result)
			}
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Stored workflow %q", args[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "workflow description")
	return cmd
}

func newWorkflowDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteWorkflow(cmd.Context(), args[0]); err != nil {
				return err
			}
			opts.output().Success(fmt.Sprintf("Deleted workflow %q", args[0]))
			return nil
		},
	}
}

// toYAML goes through JSON so steps keep their single-key document form.
func toYAML(wf *schema.Workflow) ([]byte, error) {
	raw, err := json.Marshal(wf)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

func printIssues(out *Output, result *schema.ValidationResult) {
	for _, issue := range result.Errors {
		out.Error(fmt.Sprintf("%s %s: %s", issue.Path, issue.Code, issue.Message))
	}
	for _, issue := range result.Warnings {
		out.Warn(fmt.Sprintf("%s %s: %s", issue.Path, issue.Code, issue.Message))
	}
}
