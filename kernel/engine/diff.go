package engine

import (
	"fmt"

	"github.com/openziti/fabkeep/kernel/model"
)

type Op string

const (
	OpNoop     Op = "noop"
	OpCreate   Op = "create"
	OpUpdate   Op = "update"
	OpEnable   Op = "enable"
	OpDisable  Op = "disable"
	OpValidate Op = "validate"
	OpRestart  Op = "restart"
	OpReload   Op = "reload"
)

func (o Op) IsContent() bool {
	return o == OpCreate || o == OpUpdate
}

// Action is one step of a plan. Pre-images are captured by the executor when the action is applied.
type Action struct {
	Op     Op
	Spec   *model.ResourceSpec
	Reason string
	Post   PostCondition
}

// PostCondition is what the executor re-checks after applying an action.
type PostCondition struct {
	Hash    string
	Enabled *bool
	Active  *bool
}

func (a *Action) Ref() model.Ref {
	return a.Spec.Ref()
}

func (a *Action) String() string {
	return fmt.Sprintf("%s(%s)", a.Op, a.Spec.Ref())
}

func (a *Action) Record() model.ActionRecord {
	return model.ActionRecord{Op: string(a.Op), Ref: a.Ref(), Reason: a.Reason}
}

type Plan struct {
	Actions []*Action
	Order   []model.Ref
}

// Pending returns the actions that mutate or validate something.
func (p *Plan) Pending() []*Action {
	var out []*Action
	for _, a := range p.Actions {
		if a.Op != OpNoop {
			out = append(out, a)
		}
	}
	return out
}

func (p *Plan) IsEmpty() bool {
	return len(p.Pending()) == 0
}

type PlanSummary struct {
	Create   int
	Update   int
	Runtime  int
	Validate int
	Restart  int
	Noop     int
}

func (p *Plan) Summary() PlanSummary {
	var s PlanSummary
	for _, a := range p.Actions {
		switch a.Op {
		case OpCreate:
			s.Create++
		case OpUpdate:
			s.Update++
		case OpEnable, OpDisable:
			s.Runtime++
		case OpValidate:
			s.Validate++
		case OpRestart, OpReload:
			s.Restart++
		case OpNoop:
			s.Noop++
		}
	}
	return s
}

func (p *Plan) Records() []model.ActionRecord {
	out := make([]model.ActionRecord, 0, len(p.Actions))
	for _, a := range p.Actions {
		out = append(out, a.Record())
	}
	return out
}

type PlanOptions struct {
	// RuntimeOnly suppresses content actions. Changed marks resources whose content was replaced outside the
	// plan (by a restore) so their dependents still restart.
	RuntimeOnly bool
	Changed     map[model.Ref]bool
}

// ComputePlan diffs desired specs against observed states. Resources are visited in dependency order, so
// every content action of a dependency precedes the restarts that depend on it. Missing states are treated
// as absent.
func ComputePlan(specs []*model.ResourceSpec, states map[model.Ref]model.ResourceState, opts PlanOptions) (*Plan, error) {
	ordered, err := TopoSort(specs)
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	changed := map[model.Ref]bool{}
	for _, spec := range ordered {
		plan.Order = append(plan.Order, spec.Ref())

		kindType, err := model.GetKindType(spec.Kind)
		if err != nil {
			return nil, &model.ConfigError{Source: string(spec.Ref()), Err: err}
		}

		state, ok := states[spec.Ref()]
		if !ok {
			state = model.Absent(spec.Ref(), nil)
		}

		var actions []*Action

		if spec.HasContent && !opts.RuntimeOnly {
			desired := spec.DesiredHash()
			switch {
			case !state.Exists:
				actions = append(actions, &Action{Op: OpCreate, Spec: spec, Reason: "absent", Post: PostCondition{Hash: desired}})
				changed[spec.Ref()] = true
			case state.Hash != desired:
				actions = append(actions, &Action{Op: OpUpdate, Spec: spec, Reason: "content differs", Post: PostCondition{Hash: desired}})
				changed[spec.Ref()] = true
			}
		}
		if opts.Changed[spec.Ref()] {
			changed[spec.Ref()] = true
		}

		triggeredBy := ""
		if changed[spec.Ref()] {
			triggeredBy = string(spec.Ref())
		}
		for _, dep := range spec.DependsOn {
			if changed[dep] && triggeredBy == "" {
				triggeredBy = string(dep)
			}
		}

		var runtime *Action
		if kindType.HasRuntime() {
			runtime = runtimeAction(spec, state)
		}

		if spec.Kind == model.KindServiceUnit && spec.WantsEnabled() {
			starting := runtime != nil && !state.Active
			bounce := triggeredBy != "" && state.Active
			if len(spec.Validate) > 0 && (starting || bounce) {
				actions = append(actions, &Action{Op: OpValidate, Spec: spec, Reason: "gate before start"})
			}
			if runtime != nil {
				actions = append(actions, runtime)
			}
			if bounce {
				op := OpRestart
				if spec.OnChange == model.OnChangeReload && !changed[spec.Ref()] {
					op = OpReload
				}
				actions = append(actions, &Action{Op: op, Spec: spec, Reason: "changed: " + triggeredBy, Post: PostCondition{Active: boolPtr(true)}})
			}
		} else if runtime != nil {
			actions = append(actions, runtime)
		}

		if len(actions) == 0 {
			actions = append(actions, &Action{Op: OpNoop, Spec: spec, Reason: "in sync"})
		}
		plan.Actions = append(plan.Actions, actions...)
	}
	return plan, nil
}

func runtimeAction(spec *model.ResourceSpec, state model.ResourceState) *Action {
	want := spec.WantsEnabled()
	inSync := state.Enabled == want
	if spec.Kind == model.KindServiceUnit {
		inSync = inSync && state.Active == want
	}
	if spec.Kind == model.KindProxySite && spec.EnableLink == "" {
		// without a link the site is enabled by existing
		inSync = true
	}
	if inSync {
		return nil
	}
	post := PostCondition{Enabled: boolPtr(want)}
	if spec.Kind == model.KindServiceUnit {
		post.Active = boolPtr(want)
	}
	if want {
		return &Action{Op: OpEnable, Spec: spec, Reason: "runtime disabled", Post: post}
	}
	return &Action{Op: OpDisable, Spec: spec, Reason: "runtime enabled", Post: post}
}

// TopoSort orders specs so each comes after everything it depends on. Ties keep declaration order.
func TopoSort(specs []*model.ResourceSpec) ([]*model.ResourceSpec, error) {
	index := make(map[model.Ref]int, len(specs))
	for i, s := range specs {
		index[s.Ref()] = i
	}

	inDegree := make([]int, len(specs))
	dependents := make([][]int, len(specs))
	for i, s := range specs {
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, model.NewConfigError(string(s.Ref()), "depends_on", "unknown resource '%s'", dep)
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(specs))
	ordered := make([]*model.ResourceSpec, 0, len(specs))
	for len(ordered) < len(specs) {
		next := -1
		for i := range specs {
			if !done[i] && inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, &model.CyclicDependencyError{Cycle: findCycle(specs, index, done)}
		}
		done[next] = true
		ordered = append(ordered, specs[next])
		for _, d := range dependents[next] {
			inDegree[d]--
		}
	}
	return ordered, nil
}

// findCycle walks dependencies among the unsorted specs until a node repeats.
func findCycle(specs []*model.ResourceSpec, index map[model.Ref]int, done []bool) []model.Ref {
	start := -1
	for i := range specs {
		if !done[i] {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	visitedAt := map[int]int{}
	var path []model.Ref
	current := start
	for {
		if pos, seen := visitedAt[current]; seen {
			cycle := append([]model.Ref{}, path[pos:]...)
			return append(cycle, specs[current].Ref())
		}
		visitedAt[current] = len(path)
		path = append(path, specs[current].Ref())

		next := -1
		for _, dep := range specs[current].DependsOn {
			if j := index[dep]; !done[j] {
				next = j
				break
			}
		}
		if next < 0 {
			return path
		}
		current = next
	}
}

func boolPtr(b bool) *bool {
	return &b
}
