package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/taskweave/internal/store"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron schedules of stored workflows",
	}
	cmd.AddCommand(
		newScheduleListCmd(opts),
		newScheduleCreateCmd(opts),
		newScheduleToggleCmd(opts, "enable", true),
		newScheduleToggleCmd(opts, "disable", false),
		newScheduleDeleteCmd(opts),
	)
	return cmd
}

func newScheduleListCmd(opts *rootOptions) *cobra.Command {
	var (
		workflow string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.store.ListScheduledJobs(cmd.Context(), store.ScheduledJobFilter{Workflow: workflow, Limit: limit})
			if err != nil {
				return err
			}
			if jobs == nil {
				jobs = []*store.ScheduledJob{}
			}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = []string{
					j.ID, j.Workflow, j.CronExpression, strconv.FormatBool(j.Enabled),
					formatTime(j.NextRunAt), formatTime(j.LastRunAt), orDash(j.LastRunStatus),
				}
			}
			opts.output().Print([]string{"ID", "WORKFLOW", "CRON", "ENABLED", "NEXT_RUN", "LAST_RUN", "STATUS"}, rows, jobs)
			return nil
		},
	}
	cmd.Flags().StringVar(&workflow, "workflow", "", "filter by workflow")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results")
	return cmd
}

func newScheduleCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		inputs   []string
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "create WORKFLOW CRON",
		Short: "Schedule a stored workflow (standard 5-field cron or @hourly, @every 10m, ...)",
		Args:  cobra.ExactArgs(2),
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

			if _, err := a.store.GetWorkflow(ctx, args[0]); err != nil {
				return err
			}
			job := &store.ScheduledJob{
				Workflow:       args[0],
				CronExpression: args[1],
				Inputs:         in,
				Enabled:        !disabled,
			}
			if err := a.scheduler.Schedule(ctx, job); err != nil {
				return err
			}
			out := opts.output()
			if opts.jsonOutput {
				out.JSON(job)
				return nil
			}
			out.Success(fmt.Sprintf("Schedule %s created, next run %s", job.ID, formatTime(job.NextRunAt)))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input value as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the schedule disabled")
	return cmd
}

// newScheduleToggleCmd enables or disables a job. Enabling recomputes the
// next run so a long-disabled job does not fire immediately as missed.
func newScheduleToggleCmd(opts *rootOptions, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " ID",
		Short: verb + " a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.store.GetScheduledJob(ctx, args[0])
			if err != nil {
				return err
			}
			update := store.ScheduledJobUpdate{Enabled: &enabled}
			if enabled {
				next, err := a.scheduler.CalculateNextRun(job.CronExpression, time.Now().UTC())
				if err != nil {
					return err
				}
				update.NextRunAt = &next
			}
			if err := a.store.UpdateScheduledJob(ctx, job.ID, update); err != nil {
				return err
			}
			opts.output().Success(fmt.Sprintf("Schedule %s %sd", job.ID, verb))
			return nil
		},
	}
}

func newScheduleDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteScheduledJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			opts.output().Success(fmt.Sprintf("Schedule %s deleted", args[0]))
			return nil
		},
	}
}
