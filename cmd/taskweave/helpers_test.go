package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputs(t *testing.T) {
	in, err := parseInputs([]string{"a=1", "b=x=y", "a=2", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "2", "b": "x=y", "empty": ""}, in)

	in, err = parseInputs(nil)
	require.NoError(t, err)
	assert.Nil(t, in)

	_, err = parseInputs([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseInputs([]string{"=v"})
	assert.Error(t, err)
}

func TestWorkflowNameFromPath(t *testing.T) {
	assert.Equal(t, "report", workflowNameFromPath("/tmp/flows/report.yaml"))
	assert.Equal(t, "stdin", workflowNameFromPath("-"))
	assert.Equal(t, "plain", workflowNameFromPath("plain"))
}

func TestSSEURL(t *testing.T) {
	assert.Equal(t, "http://h:1/sse/events", sseURL("http://h:1/", "", "", nil))
	assert.Equal(t, "http://h:1/sse/executions/abc", sseURL("http://h:1", "", "abc", nil))
	assert.Equal(t, "http://h:1/sse/events?type=step_completed%2Cmessage&workflow=w",
		sseURL("http://h:1", "w", "", []string{"step_completed", "message"}))
}
