package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reportDoc = `entry_point: report
tasks:
  report:
    steps:
      - gt: ["${count}", 3]
  count:
    steps:
      - length: "${words}"
  words:
    output: "@{text}"
`

type cli struct {
	t   *testing.T
	dir string
}

// newCLI isolates settings and a file store under a temp directory.
func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TASKWEAVE_HOME", dir)
	t.Setenv("TASKWEAVE_STORE_DRIVER", "file")
	t.Setenv("TASKWEAVE_STORE_PATH", filepath.Join(dir, "store"))
	t.Setenv("TASKWEAVE_LOG_LEVEL", "error")
	return &cli{t: t, dir: dir}
}

func (c *cli) file(name, content string) string {
	c.t.Helper()
	path := filepath.Join(c.dir, name)
	require.NoError(c.t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (c *cli) run(args ...string) (string, string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	opts := &rootOptions{stdout: &stdout, stderr: &stderr}
	cmd := newRootCmdWith(opts)
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRun_File(t *testing.T) {
	c := newCLI(t)
	path := c.file("report.yaml", reportDoc)

	out, _, err := c.run("run", path, "--input", "text=abcdef")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, _, err = c.run("run", path, "--input", "text=ab")
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestRun_JSONAndTrace(t *testing.T) {
	c := newCLI(t)
	path := c.file("report.yaml", reportDoc)

	out, _, err := c.run("run", path, "--input", "text=abcdef", "--json")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "completed", res["status"])
	assert.Equal(t, "report", res["workflow"])

	out, _, err = c.run("run", path, "--input", "text=abcdef", "--trace")
	require.NoError(t, err)
	assert.Contains(t, out, "step_completed")
	assert.Contains(t, out, "workflow_completed")
}

func TestRun_Failure(t *testing.T) {
	c := newCLI(t)
	path := c.file("bad.json", `{"entry_point": "w", "tasks": {"w": {"steps": [{"wait": "soon"}]}}}`)

	out, _, err := c.run("run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_STEP_INPUT")
	assert.Empty(t, out)
}

func TestWorkflowStoreAndRunByName(t *testing.T) {
	c := newCLI(t)
	path := c.file("report.yaml", reportDoc)

	_, stderr, err := c.run("workflow", "put", "report", path, "--description", "word count")
	require.NoError(t, err)
	assert.Contains(t, stderr, `Stored workflow "report"`)

	out, _, err := c.run("workflow", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "report")
	assert.Contains(t, out, "word count")

	out, _, err = c.run("workflow", "get", "report", "--yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "entry_point: report")

	out, _, err = c.run("run", "report", "--input", "text=abcd")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, _, err = c.run("inputs", "check", "report")
	require.NoError(t, err)
	assert.Contains(t, out, "text")
	assert.Contains(t, out, "unset")

	_, _, err = c.run("workflow", "delete", "report")
	require.NoError(t, err)
	_, _, err = c.run("run", "report")
	assert.ErrorContains(t, err, "NOT_FOUND")
}

func TestValidate(t *testing.T) {
	c := newCLI(t)
	good := c.file("good.yaml", reportDoc)
	bad := c.file("bad.json", `{"entry_point": "a", "tasks": {"a": {"steps": [{"length": "${nope}"}]}}}`)

	out, _, err := c.run("validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	out, _, err = c.run("validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out, "MISSING_TASK_REFERENCE")
}

func TestDiagram(t *testing.T) {
	c := newCLI(t)
	path := c.file("report.yaml", reportDoc)

	out, _, err := c.run("diagram", path, "--format", "mermaid")
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")

	out, _, err = c.run("diagram", path, "--run", "--input", "text=abcdef")
	require.NoError(t, err)
	assert.Contains(t, out, "[OK]")

	png := filepath.Join(c.dir, "report.png")
	_, _, err = c.run("diagram", path, "-f", "png", "-o", png)
	require.NoError(t, err)
	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data[:4])

	_, _, err = c.run("diagram", path, "-f", "gif")
	assert.Error(t, err)
}

func TestExecutorDefineAndUse(t *testing.T) {
	c := newCLI(t)

	_, _, err := c.run("executor", "define", "--kind", "shout", "--engine", "expr",
		"--source", "upper(step)", "--example", `"hi"`)
	require.NoError(t, err)

	out, _, err := c.run("executor", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "shout")

	path := c.file("shout.json", `{"entry_point": "s", "tasks": {"s": {"steps": [{"shout": "hey"}]}}}`)
	out, _, err = c.run("run", path)
	require.NoError(t, err)
	assert.Equal(t, "HEY\n", out)
}

func TestSchedule(t *testing.T) {
	c := newCLI(t)
	path := c.file("report.yaml", reportDoc)
	_, _, err := c.run("workflow", "put", "report", path)
	require.NoError(t, err)

	_, _, err = c.run("schedule", "create", "missing", "@hourly")
	assert.ErrorContains(t, err, "NOT_FOUND")
	_, _, err = c.run("schedule", "create", "report", "every now and then")
	assert.Error(t, err)

	out, _, err := c.run("--json", "schedule", "create", "report", "@hourly", "--input", "text=abcd")
	require.NoError(t, err)
	var job map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	id := job["id"].(string)

	_, _, err = c.run("schedule", "disable", id)
	require.NoError(t, err)
	out, _, err = c.run("schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "false")

	_, _, err = c.run("schedule", "enable", id)
	require.NoError(t, err)
	_, _, err = c.run("schedule", "delete", id)
	require.NoError(t, err)
	out, _, err = c.run("--json", "schedule", "list")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestInit(t *testing.T) {
	c := newCLI(t)

	_, _, err := c.run("init", "--panel", "--listen-addr", ":4200", "--scheduler-interval", "30s")
	require.NoError(t, err)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.Panel)
	assert.Equal(t, ":4200", cfg.ListenAddr)

	_, _, err = c.run("init")
	assert.ErrorContains(t, err, "--force")
	_, _, err = c.run("init", "--force")
	require.NoError(t, err)
}

func TestVersion(t *testing.T) {
	c := newCLI(t)
	out, _, err := c.run("version")
	require.NoError(t, err)
	assert.Contains(t, out, "dev")
}
