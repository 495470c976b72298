package main

import (
	"net/http"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/internal/watch"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		baseURL   string
		workflow  string
		execution string
		types     []string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a running server's debug events in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if baseURL == "" {
				cfg, err := opts.config()
				if err != nil {
					return err
				}
				baseURL = cfg.BaseURL
			}
			streamURL := sseURL(baseURL, workflow, execution, types)

			events := make(chan streaming.Event, 64)
			msgs := make(chan tea.Msg, 64)
			go func() {
				defer close(msgs)
				errc := make(chan error, 1)
				go func() {
					errc <- watch.Subscribe(ctx, &http.Client{}, streamURL, events)
					close(events)
				}()
				for ev := range events {
					msgs <- watch.EventMsg(ev)
				}
				msgs <- watch.StreamClosedMsg{Err: <-errc}
			}()

			title := "taskweave " + strings.TrimSuffix(baseURL, "/")
			p := tea.NewProgram(watch.NewModel(title, msgs), tea.WithAltScreen(), tea.WithContext(ctx))
			_, err := p.Run()
			return err
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "server base URL (default: base_url from settings)")
	cmd.Flags().StringVar(&workflow, "workflow", "", "only events of this workflow")
	cmd.Flags().StringVar(&execution, "execution", "", "only events of this execution, replaying retained ones")
	cmd.Flags().StringSliceVar(&types, "type", nil, "only these event types")
	return cmd
}

// sseURL builds the panel stream URL for the given filters.
func sseURL(base, workflow, execution string, types []string) string {
	base = strings.TrimSuffix(base, "/")
	path := "/sse/events"
	if execution != "" {
		path = "/sse/executions/" + url.PathEscape(execution)
	}
	q := url.Values{}
	if workflow != "" {
		q.Set("workflow", workflow)
	}
	if len(types) > 0 {
		q.Set("type", strings.Join(types, ","))
	}
	if len(q) == 0 {
		return base + path
	}
	return base + path + "?" + q.Encode()
}
