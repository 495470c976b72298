package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rendis/taskweave/internal/streaming"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		inputs []string
		trace  bool
	)

	cmd := &cobra.Command{
		Use:   "run WORKFLOW",
		Short: "Execute a workflow file (JSON or YAML, - for stdin) or a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
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
			res, runErr := a.runner.Execute(ctx, name, wf, overrides)
			if res == nil {
				return runErr
			}

			out := opts.output()
			if trace {
				printTrace(out, a.hub.History(streaming.EventFilter{ExecutionID: res.ExecutionID}))
			}
			if opts.jsonOutput {
				out.JSON(res)
			} else if runErr == nil {
				out.Text(res.Result)
			}
			if runErr != nil {
				return runErr
			}
			out.Success(res.Describe())
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input value as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&trace, "trace", false, "print the execution's debug events")
	return cmd
}

func printTrace(out *Output, events []streaming.Event) {
	if out.jsonMode {
		return
	}
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		step := "-"
		if ev.Step != nil {
			step = strconv.Itoa(*ev.Step)
		}
		rows = append(rows, []string{
			ev.Timestamp.Format("15:04:05.000"),
			ev.Type,
			orDash(ev.Task),
			step,
			describePayload(ev),
		})
	}
	out.Table([]string{"TIME", "EVENT", "TASK", "STEP", "DETAIL"}, rows)
}

// describePayload picks the interesting field of a debug event payload.
func describePayload(ev streaming.Event) string {
	if ev.Message != "" {
		return ev.Message
	}
	p, ok := ev.Payload.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"result", "command", "entry_point", "status", "key"} {
		if v, ok := p[key]; ok {
			return fmt.Sprintf("%s=%v", key, v)
		}
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

