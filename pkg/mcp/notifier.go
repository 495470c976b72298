package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/pkg/schema"
)

// notificationMethod is the MCP logging notification.
const notificationMethod = "notifications/message"

// clientNotifier is the part of *server.MCPServer the Notifier uses.
type clientNotifier interface {
	SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error
}

// Notifier pushes debug events to subscribed MCP sessions.
type Notifier struct {
	mcpServer clientNotifier
	sessions  *SessionRegistry
	logger    *slog.Logger
}

// NewNotifier creates a notifier that pushes to sessions of mcpServer.
func NewNotifier(mcpServer clientNotifier, sessions *SessionRegistry, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{mcpServer: mcpServer, sessions: sessions, logger: logger}
}

// Run forwards hub events until ctx is done.
func (n *Notifier) Run(ctx context.Context, hub streaming.EventHub) {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		n.logger.Warn("event notifications disabled", "error", err)
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			n.Notify(ev)
		}
	}
}

// Notify sends ev to every session subscribed to its workflow.
// Best-effort: sessions that went away are unsubscribed.
func (n *Notifier) Notify(ev streaming.Event) {
	level := "info"
	if ev.Type == schema.EventWorkflowFailed {
		level = "error"
	}
	params := map[string]any{
		"level":  level,
		"logger": "taskweave",
		"data":   ev,
	}
	for _, sid := range n.sessions.SessionsFor(ev.Workflow) {
		err := n.mcpServer.SendNotificationToSpecificClient(sid, notificationMethod, params)
		switch {
		case errors.Is(err, server.ErrSessionNotFound):
			n.sessions.Remove(sid)
		case err != nil:
			n.logger.Debug("notification not delivered", "session", sid, "error", err)
		}
	}
}
