package model

import "time"

type RunState string

const (
	StateIdle       RunState = "idle"
	StateInspecting RunState = "inspecting"
	StateDiffing    RunState = "diffing"
	StateExecuting  RunState = "executing"
	StateVerifying  RunState = "verifying"
	StateDone       RunState = "done"
	StateRolledBack RunState = "rolled_back"
	StateFailed     RunState = "failed"
	// StatePlanned ends a dry run after diffing.
	StatePlanned RunState = "planned"
)

func (s RunState) Terminal() bool {
	switch s {
	case StateDone, StateRolledBack, StateFailed, StatePlanned:
		return true
	}
	return false
}

// RunReport is what every terminal state reports: what was touched, which probes passed, what was rolled back.
type RunReport struct {
	RunId            string           `json:"run_id"`
	ModelId          string           `json:"model_id"`
	Trigger          string           `json:"trigger"`
	DryRun           bool             `json:"dry_run"`
	State            RunState         `json:"state"`
	Transitions      []RunState       `json:"transitions"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	Planned          []ActionRecord   `json:"planned,omitempty"`
	Applied          []ActionRecord   `json:"applied,omitempty"`
	Rollback         []RollbackRecord `json:"rollback,omitempty"`
	Probes           []ProbeResult    `json:"probes,omitempty"`
	InspectionErrors []string         `json:"inspection_errors,omitempty"`
	Error            string           `json:"error,omitempty"`
}

func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Touched lists the resources that had a mutating action applied, in apply order.
func (r *RunReport) Touched() []Ref {
	seen := map[Ref]bool{}
	var out []Ref
	for _, a := range r.Applied {
		if a.Op == "noop" || a.Op == "validate" || seen[a.Ref] {
			continue
		}
		seen[a.Ref] = true
		out = append(out, a.Ref)
	}
	return out
}

func (r *RunReport) ProbesPassed() int {
	n := 0
	for _, p := range r.Probes {
		if p.Pass {
			n++
		}
	}
	return n
}

type ActionRecord struct {
	Op       string        `json:"op"`
	Ref      Ref           `json:"ref"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type RollbackRecord struct {
	Op    string `json:"op"`
	Ref   Ref    `json:"ref"`
	Error string `json:"error,omitempty"`
}

type ProbeResult struct {
	Name       string        `json:"name"`
	URL        string        `json:"url"`
	Pass       bool          `json:"pass"`
	Attempts   int           `json:"attempts"`
	LastStatus int           `json:"last_status,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

type VerificationResult struct {
	Pass   bool          `json:"pass"`
	Probes []ProbeResult `json:"probes"`
}
