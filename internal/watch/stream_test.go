package watch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/taskweave/internal/streaming"
)

func TestReadEvents(t *testing.T) {
	body := strings.Join([]string{
		": keepalive",
		"id: 1",
		"event: step_completed",
		`data: {"id":"1","type":"step_completed","task":"count","step":0}`,
		"",
		"event: broken",
		"data: {not json",
		"",
		"id: 2",
		`data: {"id":"2","type":"workflow_completed",`,
		`data: "payload":{"result":"3"}}`,
		"",
	}, "\n")

	var got []streaming.Event
	err := ReadEvents(strings.NewReader(body), func(ev streaming.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "step_completed", got[0].Type)
	require.NotNil(t, got[0].Step)
	assert.Equal(t, 0, *got[0].Step)
	assert.Equal(t, "workflow_completed", got[1].Type)
	assert.Equal(t, "3", got[1].Payload.(map[string]any)["result"])
}

func TestReadEvents_TrailingEventWithoutBlankLine(t *testing.T) {
	var got []streaming.Event
	err := ReadEvents(strings.NewReader(`data: {"id":"x","type":"message"}`), func(ev streaming.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "message", got[0].Type)
}

func TestReadEvents_StopsOnCallbackError(t *testing.T) {
	body := "data: {\"type\":\"a\"}\n\ndata: {\"type\":\"b\"}\n\n"
	calls := 0
	err := ReadEvents(strings.NewReader(body), func(streaming.Event) error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestSubscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "event: message\ndata: {\"id\":\"%d\",\"type\":\"message\"}\n\n", i)
		}
	}))
	defer srv.Close()

	out := make(chan streaming.Event, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, Subscribe(ctx, srv.Client(), srv.URL, out))
	close(out)

	var ids []string
	for ev := range out {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"0", "1", "2"}, ids)
}

func TestSubscribe_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "event streaming is disabled", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := Subscribe(context.Background(), srv.Client(), srv.URL, make(chan streaming.Event))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "event streaming is disabled")
}
