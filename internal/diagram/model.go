package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindTask      NodeKind = "task"
	NodeKindOutput    NodeKind = "output" // task with an output template and no steps
	NodeKindWait      NodeKind = "wait"
	NodeKindLength    NodeKind = "length"
	NodeKindGt        NodeKind = "gt"
	NodeKindIf        NodeKind = "if"
	NodeKindExtension NodeKind = "extension"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is a task, or a step inside a task's SubGraph.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Entry    bool
	Status   *StatusOverlay
	Children []*SubGraph // the task's step sequence
}

// SubGraph holds a task's steps in order.
type SubGraph struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// StatusOverlay carries what the debug stream reported for a node.
type StatusOverlay struct {
	Status string // completed | failed
	Runs   int    // tasks are re-evaluated for every reference
	Result string
	Error  string
}

// Edge is a task reference (referenced task -> referencing task) or a
// step-to-step transition.
type Edge struct {
	From  string
	To    string
	Label string
}
