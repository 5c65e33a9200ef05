package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/openziti/fabkeep/kernel/model"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// TextfileSink writes the last run of each model as a node_exporter textfile collector file.
type TextfileSink struct {
	Path string
}

// NewTextfileSink takes either a .prom file or a collector directory, in which case the file is named per model.
func NewTextfileSink(path string) *TextfileSink {
	return &TextfileSink{Path: path}
}

func (s *TextfileSink) fileFor(modelId string) string {
	if strings.HasSuffix(s.Path, ".prom") {
		return s.Path
	}
	return filepath.Join(s.Path, "fabkeep_"+modelId+".prom")
}

func (s *TextfileSink) Record(_ context.Context, report *model.RunReport) error {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"model": report.ModelId}

	gauge := func(name, help string, value float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fabkeep",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		g.Set(value)
		registry.MustRegister(g)
	}

	gauge("last_run_timestamp_seconds", "Unix time the last run finished.", float64(finishedAt(report).Unix()))
	gauge("last_run_duration_seconds", "Duration of the last run.", report.Duration().Seconds())
	gauge("last_run_success", "1 if the last run ended done or planned.", float64(fields(report)["success"].(int)))
	gauge("last_run_actions_applied", "Actions applied by the last run.", float64(len(report.Applied)))
	gauge("last_run_rollback_actions", "Rollback steps taken by the last run.", float64(len(report.Rollback)))
	gauge("last_run_probes_total", "Health probes checked by the last run.", float64(len(report.Probes)))
	gauge("last_run_probes_passed", "Health probes passed in the last run.", float64(report.ProbesPassed()))

	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   "fabkeep",
		Name:        "last_run_state",
		Help:        "Terminal state of the last run.",
		ConstLabels: labels,
	}, []string{"state"})
	for _, st := range []model.RunState{model.StateDone, model.StateRolledBack, model.StateFailed, model.StatePlanned} {
		v := 0.0
		if report.State == st {
			v = 1
		}
		state.WithLabelValues(string(st)).Set(v)
	}
	registry.MustRegister(state)

	path := s.fileFor(report.ModelId)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "unable to create textfile directory for [%s]", path)
	}
	return errors.Wrapf(prometheus.WriteToTextfile(path, registry), "unable to write textfile [%s]", path)
}

func (s *TextfileSink) Close() error {
	return nil
}
