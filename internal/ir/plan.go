package ir

// Action is the operation a Change proposes for one resource.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionDestroy Action = "destroy"
	ActionNoOp    Action = "noop"
	ActionRead    Action = "read"
)

// Plan is a calculated, reviewable execution plan.
type Plan struct {
	Metadata *PlanMetadata  `json:"metadata"`
	Changes  []*Change      `json:"changes"`
	Summary  *PlanSummary   `json:"summary"`
	Outputs  map[string]any `json:"outputs,omitempty"`
}

type PlanMetadata struct {
	Timestamp string `json:"timestamp"`
	Lineage   string `json:"lineage,omitempty"`
	Serial    uint64 `json:"serial"`
	Refreshed bool   `json:"refreshed"`
}

// Change is a single proposed action bound to one resource address.
// Changes are produced by the planner and consumed by the executor;
// they do not outlive the run unless saved as an audit artifact.
type Change struct {
	Address string                    `json:"address"`
	Action  Action                    `json:"action"`
	Desired *Resource                 `json:"desired,omitempty"` // nil for destroy
	Prior   *ResourceRecord           `json:"prior,omitempty"`   // nil for create
	Diff    map[string]*AttributeDiff `json:"diff,omitempty"`

	// CreateBeforeDestroy selects the replacement strategy for replace
	// actions: create the successor first, then destroy the prior object.
	CreateBeforeDestroy bool `json:"createBeforeDestroy,omitempty"`

	// DependsOn lists addresses of other changes in the same plan that
	// must complete before this one may start.
	DependsOn []string `json:"dependsOn,omitempty"`

	// Dependencies lists every direct graph dependency of the resource,
	// pending or not; it is persisted into the state record so destroys
	// can be ordered after the configuration is gone.
	Dependencies []string `json:"dependencies,omitempty"`
}

// AttributeDiff records the before/after pair for one attribute.
type AttributeDiff struct {
	Before            Value  `json:"before"`
	After             Value  `json:"after"`
	Action            string `json:"action"` // "create", "update", "delete"
	ForcesReplacement bool   `json:"forcesReplacement,omitempty"`
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Replace int `json:"replace"`
	Destroy int `json:"destroy"`
	NoOp    int `json:"noop"`
	Read    int `json:"read"`
}

// IsEmpty reports whether the plan proposes no changes.
func (p *Plan) IsEmpty() bool {
	return len(p.Changes) == 0
}
