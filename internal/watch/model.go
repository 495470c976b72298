package watch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/pkg/schema"
)

const defaultMaxEvents = 500

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// EventMsg carries one event from the stream into the program.
type EventMsg streaming.Event

// StreamClosedMsg reports that the event stream ended, with its error.
type StreamClosedMsg struct{ Err error }

// execution is the rolled-up state of one execution seen on the stream.
type execution struct {
	id       string
	workflow string
	status   string
	steps    int
	detail   string
	order    int
}

// Model is a bubbletea model that follows the debug event stream.
type Model struct {
	title   string
	source  <-chan tea.Msg
	spinner spinner.Model

	events     []streaming.Event
	maxEvents  int
	executions map[string]*execution
	seen       int

	closed bool
	err    error
	height int
}

// NewModel creates a Model reading messages (EventMsg, StreamClosedMsg)
// from source.
func NewModel(title string, source <-chan tea.Msg) Model {
	return Model{
		title:      title,
		source:     source,
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		maxEvents:  defaultMaxEvents,
		executions: make(map[string]*execution),
		height:     24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.next())
}

// next waits for the following stream message.
func (m Model) next() tea.Cmd {
	src := m.source
	return func() tea.Msg {
		msg, ok := <-src
		if !ok {
			return StreamClosedMsg{}
		}
		return msg
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "c":
			m.events = nil
			m.executions = make(map[string]*execution)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil

	case EventMsg:
		m.record(streaming.Event(msg))
		return m, m.next()

	case StreamClosedMsg:
		m.closed = true
		m.err = msg.Err
		return m, nil

	case spinner.TickMsg:
		if m.closed {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) record(ev streaming.Event) {
	m.events = append(m.events, ev)
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
	if ev.ExecutionID == "" {
		return
	}

	ex, ok := m.executions[ev.ExecutionID]
	if !ok {
		m.seen++
		ex = &execution{id: ev.ExecutionID, workflow: ev.Workflow, status: "running", order: m.seen}
		m.executions[ev.ExecutionID] = ex
	}
	switch ev.Type {
	case schema.EventStepCompleted:
		ex.steps++
	case schema.EventWorkflowCompleted:
		ex.status = string(schema.ExecutionStatusCompleted)
		ex.detail = payloadField(ev, "result")
	case schema.EventWorkflowFailed:
		ex.status = string(schema.ExecutionStatusFailed)
		ex.detail = ev.Message
	}
}

func payloadField(ev streaming.Event, key string) string {
	p, ok := ev.Payload.(map[string]any)
	if !ok {
		return ""
	}
	if v, ok := p[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case string(schema.ExecutionStatusCompleted):
		return completedStyle
	case string(schema.ExecutionStatusFailed):
		return failedStyle
	}
	return runningStyle
}

func (m Model) View() string {
	var b strings.Builder

	header := titleStyle.Render(m.title)
	switch {
	case m.closed && m.err != nil:
		header += " " + failedStyle.Render("disconnected: "+m.err.Error())
	case m.closed:
		header += " " + mutedStyle.Render("stream closed")
	default:
		header += " " + m.spinner.View()
	}
	b.WriteString(header + "\n\n")

	execs := make([]*execution, 0, len(m.executions))
	for _, ex := range m.executions {
		execs = append(execs, ex)
	}
	sort.Slice(execs, func(i, j int) bool { return execs[i].order > execs[j].order })
	if len(execs) > 5 {
		execs = execs[:5]
	}
	for _, ex := range execs {
		fmt.Fprintf(&b, "%s %s %s %s\n",
			statusStyle(ex.status).Render(fmt.Sprintf("%-9s", ex.status)),
			ex.workflow,
			mutedStyle.Render(shortID(ex.id)),
			detailStyle.Render(fmt.Sprintf("%d steps %s", ex.steps, ex.detail)),
		)
	}
	if len(execs) > 0 {
		b.WriteString("\n")
	}

	room := m.height - len(execs) - 6
	if room < 3 {
		room = 3
	}
	events := m.events
	if len(events) > room {
		events = events[len(events)-room:]
	}
	for _, ev := range events {
		b.WriteString(formatEvent(ev) + "\n")
	}

	b.WriteString("\n" + mutedStyle.Render("q quit • c clear"))
	return b.String()
}

func formatEvent(ev streaming.Event) string {
	where := ev.Task
	if ev.Step != nil {
		where = fmt.Sprintf("%s[%d]", ev.Task, *ev.Step)
	}
	detail := ev.Message
	if detail == "" {
		detail = payloadField(ev, "result")
	}
	typ := ev.Type
	if ev.Type == schema.EventWorkflowFailed {
		typ = failedStyle.Render(typ)
	}
	return fmt.Sprintf("%s %-20s %-16s %s",
		mutedStyle.Render(ev.Timestamp.Local().Format("15:04:05")),
		typ, where, detailStyle.Render(detail))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
