package mcp

import (
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"

	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/pkg/schema"
)

func TestSessionRegistry(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("report", "s1")
	r.Register("report", "s1")
	r.Register("report", "s2")
	r.Register(AllWorkflows, "s3")
	r.Register("other", "s2")

	assert.Equal(t, []string{"s1", "s2", "s3"}, r.SessionsFor("report"))
	assert.Equal(t, []string{"s2", "s3"}, r.SessionsFor("other"))
	assert.Equal(t, []string{"s3"}, r.SessionsFor("unknown"))

	r.Remove("s2")
	assert.Equal(t, []string{"s1", "s3"}, r.SessionsFor("report"))
	assert.Equal(t, []string{"s3"}, r.SessionsFor("other"))
}

type sent struct {
	session string
	method  string
	params  map[string]any
}

type fakeClients struct {
	mu    sync.Mutex
	sent  []sent
	known map[string]bool
}

func (f *fakeClients) SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[sessionID] {
		return server.ErrSessionNotFound
	}
	f.sent = append(f.sent, sent{session: sessionID, method: method, params: params})
	return nil
}

func TestNotifier(t *testing.T) {
	sessions := NewSessionRegistry()
	sessions.Register("report", "live")
	sessions.Register("report", "gone")
	clients := &fakeClients{known: map[string]bool{"live": true}}

	n := NewNotifier(clients, sessions, nil)
	n.Notify(streaming.Event{Type: schema.EventWorkflowFailed, Workflow: "report"})
	n.Notify(streaming.Event{Type: schema.EventWorkflowCompleted, Workflow: "elsewhere"})

	if assert.Len(t, clients.sent, 1) {
		assert.Equal(t, "live", clients.sent[0].session)
		assert.Equal(t, notificationMethod, clients.sent[0].method)
		assert.Equal(t, "error", clients.sent[0].params["level"])
	}
	// Unknown sessions are dropped.
	assert.Equal(t, []string{"live"}, sessions.SessionsFor("report"))
}
