package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/taskweave/internal/diagram"
	"github.com/rendis/taskweave/internal/streaming"
)

func newDiagramCmd(opts *rootOptions) *cobra.Command {
	var (
		format  string
		outPath string
		run     bool
		inputs  []string
	)

	cmd := &cobra.Command{
		Use:   "diagram WORKFLOW",
		Short: "Render a workflow's task graph as ascii, mermaid, svg, png or dot",
		Long: `diagram renders a workflow file or stored workflow. With --run the workflow
is executed first and the diagram is annotated with each node's outcome.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch format {
			case "ascii", "mermaid", "svg", "png", "dot":
			default:
				return fmt.Errorf("--format must be ascii, mermaid, svg, png or dot")
			}
			overrides, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			name, wf, err := a.resolveWorkflow(ctx, args[0])
			if err != nil {
				return err
			}

			var events []streaming.Event
			if run {
				res, runErr := a.runner.Execute(ctx, name, wf, overrides)
				if res == nil {
					return runErr
				}
				events = a.hub.History(streaming.EventFilter{ExecutionID: res.ExecutionID})
			}

			model, err := diagram.Build(wf, name, events)
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "ascii":
				data = []byte(diagram.RenderASCII(model))
			case "mermaid":
				data = []byte(diagram.RenderMermaid(model) + "\n")
			default:
				if data, err = diagram.RenderGraphviz(ctx, model, diagram.Format(format)); err != nil {
					return err
				}
			}

			if outPath == "" || outPath == "-" {
				opts.output().Raw(data)
				return nil
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			opts.output().Success(fmt.Sprintf("Diagram written to %s", outPath))
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "ascii", "ascii, mermaid, svg, png or dot")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().BoolVar(&run, "run", false, "execute first and overlay each node's outcome")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input value as KEY=VALUE for --run (repeatable)")
	return cmd
}
