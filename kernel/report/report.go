// Package report renders plans, run reports, resource status and run history as tables.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/openziti/fabkeep/kernel/backup"
	"github.com/openziti/fabkeep/kernel/model"
	"golang.org/x/term"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	if IsTerminal(w) {
		t.SetStyle(table.StyleRounded)
		t.Style().Title.Colors = text.Colors{text.Bold}
	} else {
		t.SetStyle(table.StyleLight)
	}
	return t
}

func colorState(w io.Writer, state string) string {
	if !IsTerminal(w) {
		return state
	}
	switch model.RunState(state) {
	case model.StateDone, model.StatePlanned:
		return text.FgGreen.Sprint(state)
	case model.StateRolledBack:
		return text.FgYellow.Sprint(state)
	case model.StateFailed:
		return text.FgRed.Sprint(state)
	}
	return state
}

func Plan(w io.Writer, modelId string, actions []model.ActionRecord) {
	t := newTable(w, "plan: "+modelId)
	t.AppendHeader(table.Row{"#", "op", "resource", "reason"})
	n := 0
	for _, a := range actions {
		if a.Op == "noop" {
			continue
		}
		n++
		t.AppendRow(table.Row{n, a.Op, a.Ref, a.Reason})
	}
	if n == 0 {
		t.AppendRow(table.Row{"-", "noop", "", "everything in sync"})
	}
	t.Render()
}

func Run(w io.Writer, r *model.RunReport) {
	t := newTable(w, fmt.Sprintf("run %s: %s", r.RunId, r.ModelId))
	t.AppendRow(table.Row{"state", colorState(w, string(r.State))})
	t.AppendRow(table.Row{"trigger", r.Trigger})
	t.AppendRow(table.Row{"transitions", joinStates(r.Transitions)})
	t.AppendRow(table.Row{"duration", r.Duration().Round(time.Millisecond)})
	t.AppendRow(table.Row{"touched", len(r.Touched())})
	if r.Error != "" {
		t.AppendRow(table.Row{"error", r.Error})
	}
	t.Render()

	if len(r.Applied) > 0 {
		at := newTable(w, "applied")
		at.AppendHeader(table.Row{"op", "resource", "duration", "error"})
		for _, a := range r.Applied {
			at.AppendRow(table.Row{a.Op, a.Ref, a.Duration.Round(time.Millisecond), a.Error})
		}
		at.Render()
	}
	if len(r.Rollback) > 0 {
		rt := newTable(w, "rollback")
		rt.AppendHeader(table.Row{"op", "resource", "error"})
		for _, a := range r.Rollback {
			rt.AppendRow(table.Row{a.Op, a.Ref, a.Error})
		}
		rt.Render()
	}
	if len(r.Probes) > 0 {
		pt := newTable(w, "probes")
		pt.AppendHeader(table.Row{"probe", "url", "pass", "attempts", "status", "error"})
		for _, p := range r.Probes {
			pt.AppendRow(table.Row{p.Name, p.URL, p.Pass, p.Attempts, p.LastStatus, p.LastError})
		}
		pt.Render()
	}
	for _, ie := range r.InspectionErrors {
		_, _ = fmt.Fprintf(w, "inspection: %s\n", ie)
	}
}

func Status(w io.Writer, specs []*model.ResourceSpec, states map[model.Ref]model.ResourceState) {
	t := newTable(w, "status")
	t.AppendHeader(table.Row{"resource", "exists", "in sync", "enabled", "active", "checked", "error"})
	for _, spec := range specs {
		s, ok := states[spec.Ref()]
		if !ok {
			s = model.Absent(spec.Ref(), nil)
		}
		inSync := "-"
		if spec.HasContent {
			inSync = fmt.Sprint(s.Exists && s.Hash == spec.DesiredHash())
		}
		checked := ""
		if !s.CheckedAt.IsZero() {
			checked = s.CheckedAt.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{spec.Ref(), s.Exists, inSync, s.Enabled, s.Active, checked, s.Error})
	}
	t.Render()
}

func History(w io.Writer, runs []*model.RunReport) {
	t := newTable(w, "history")
	t.AppendHeader(table.Row{"run", "started", "trigger", "state", "applied", "rollback", "probes", "duration"})
	for _, r := range runs {
		probes := ""
		if len(r.Probes) > 0 {
			probes = fmt.Sprintf("%d/%d", r.ProbesPassed(), len(r.Probes))
		}
		t.AppendRow(table.Row{
			r.RunId, r.StartedAt.Format(time.RFC3339), r.Trigger, colorState(w, string(r.State)),
			len(r.Applied), len(r.Rollback), probes, r.Duration().Round(time.Millisecond),
		})
	}
	t.Render()
}

func Manifest(w io.Writer, m *backup.Manifest) {
	t := newTable(w, fmt.Sprintf("backup %s (%s)", m.ModelId, m.CreatedAt.Format(time.RFC3339)))
	t.AppendHeader(table.Row{"resource", "path", "size", "sha256"})
	for _, e := range m.Entries {
		t.AppendRow(table.Row{e.Ref(), e.Path, e.Size, e.Sha256[:12]})
	}
	t.AppendFooter(table.Row{"", "total", m.TotalSize(), ""})
	t.Render()
}

// Restore prints what a restore wrote, or would write for a dry run.
func Restore(w io.Writer, r *backup.RestoreResult) {
	verb := "restored"
	if r.DryRun {
		verb = "would restore"
	}
	t := newTable(w, "restore")
	t.AppendHeader(table.Row{"resource", "action"})
	refs := append([]model.Ref{}, r.Restored...)
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	for _, ref := range refs {
		t.AppendRow(table.Row{ref, verb})
	}
	for _, ref := range r.Unchanged {
		t.AppendRow(table.Row{ref, "unchanged"})
	}
	t.Render()
	if r.PreRestoreArchive != "" {
		_, _ = fmt.Fprintf(w, "pre-restore snapshot: %s\n", r.PreRestoreArchive)
	}
}

func joinStates(states []model.RunState) string {
	parts := make([]string, 0, len(states))
	for _, s := range states {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, " > ")
}
