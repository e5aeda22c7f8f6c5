// Package spec holds the immutable in-memory representation of a workflow
// specification: nets, tasks, conditions, flows, and decompositions. Nothing in
// this package mutates after a Specification is constructed; the net runner reads
// it freely without locking.
package spec

// JoinType and SplitType name the three YAWL join/split behaviors a task may
// declare. Dispatch on these tags happens centrally in the net runner (see
// pkg/kernel), never via virtual methods on Task — the model stays data-only.
type JoinType string

const (
	JoinAND JoinType = "AND"
	JoinXOR JoinType = "XOR"
	JoinOR  JoinType = "OR"
)

type SplitType string

const (
	SplitAND SplitType = "AND"
	SplitXOR SplitType = "XOR"
	SplitOR  SplitType = "OR"
)

// DecompositionKind tags what a task's body is: nothing (routing task), an atomic
// external handler, or a composite sub-net.
type DecompositionKind string

const (
	DecompositionNone      DecompositionKind = "none"
	DecompositionAtomic    DecompositionKind = "atomic"
	DecompositionComposite DecompositionKind = "composite"
)

// Decomposition is the tagged variant for Task.Decomposition, per the design note
// in SPEC_FULL.md A.9: a data-only tag, dispatched on in the runner.
type Decomposition struct {
	Kind       DecompositionKind
	HandlerRef string // meaningful when Kind == DecompositionAtomic
	SubNetRef  string // meaningful when Kind == DecompositionComposite
}

// CreationMode controls when a multi-instance task's children are spawned.
type CreationMode string

const (
	CreationStatic  CreationMode = "static"  // all children at fire time
	CreationDynamic CreationMode = "dynamic" // children may be added during execution, up to Max
)

// ContinuationPolicy controls what happens to a multi-instance task's remaining
// children once the completion threshold has been reached.
type ContinuationPolicy string

const (
	ContinuationCancel   ContinuationPolicy = "cancel"
	ContinuationContinue ContinuationPolicy = "continue"
)

// MultiInstance is the tagged variant for Task.MultiInstance: present (Spec) or
// absent (the zero value, detected via Task.IsMultiInstance).
type MultiInstance struct {
	Min                int
	Max                int
	Threshold          int
	CreationMode       CreationMode
	ContinuationPolicy ContinuationPolicy
	Accessor           string // expression: caseData -> []any, the input collection
	Splitter           string // expression: (caseData, item, index) -> per-child input
	Aggregator         string // expression: (caseData, []childOutput) -> task output
	OrderedByCreation  bool   // aggregate in creation-index order instead of completion order
}

// Timer describes an optional per-task timeout or escalation policy.
type Timer struct {
	// Expression evaluates against case data to produce a due instant, or a
	// static duration is used when Expression is empty (see pkg/timer).
	Expression string
	Policy     TimerPolicy
	FireAt     string // declared point: "enablement" or "firing"
}

type TimerPolicy string

const (
	TimerExpireSilently     TimerPolicy = "expire_silently"
	TimerRouteToException   TimerPolicy = "route_to_exception"
	TimerCompleteWithOutput TimerPolicy = "complete_with_default_output"
)

// DataMapping holds the expressions used to compute a task's input parameters from
// case data on firing, and to merge its output back into case data on completion.
type DataMapping struct {
	Input  map[string]string // param name -> expression over case data
	Output map[string]string // case-data path -> expression over task output
}

// Node is the common shape of a Task or a Condition: every node has a stable ID
// used as the key into the flat adjacency-list graph (SPEC_FULL.md A.9).
type Node struct {
	ID   string
	Name string
}

// Condition holds zero or more tokens awaiting consumption. IsInput/IsOutput mark
// the two distinguished conditions of a net.
type Condition struct {
	Node
	IsInput  bool
	IsOutput bool
}

// Task is an active node: when fired it executes its decomposition and produces
// output tokens per its split behavior.
type Task struct {
	Node
	Join                JoinType
	Split               SplitType
	Decomposition       Decomposition
	MultiInstance        *MultiInstance // nil if not multi-instance
	CancellationRegion   []string       // node IDs to clear when this task fires
	Timer                *Timer
	DataMapping          DataMapping
	OrJoinDepthOverride  int // 0 = use engine default; see SPEC_FULL.md A.9 open question
}

func (t *Task) IsMultiInstance() bool { return t.MultiInstance != nil }

// Flow is a directed edge from Source to Target, optionally predicated (for
// XOR/OR split branch selection) and ranked for deterministic ordering.
type Flow struct {
	ID        string
	Source    string
	Target    string
	Predicate string // empty = unconditional / default
	IsDefault bool
	Rank      int
}

// Net is one level of the workflow graph: exactly one input condition, one output
// condition, and a set of internal nodes wired by flows.
type Net struct {
	ID              string
	Name            string
	InputConditionID  string
	OutputConditionID string

	Tasks      map[string]*Task
	Conditions map[string]*Condition

	// outFlows/inFlows index flows by source/target node ID, kept sorted by
	// (Rank, ID) at construction time so FlowsOut/FlowsIn are O(1) lookups
	// into an already-deterministic order.
	outFlows map[string][]*Flow
	inFlows  map[string][]*Flow
	flows    map[string]*Flow
}

// Specification is the top-level immutable value the engine consumes: a root net,
// zero or more named sub-nets, identified by (URI, Version).
type Specification struct {
	URI     string
	Version string

	RootNetID string
	Nets      map[string]*Net
}
