package metrics

import (
	"context"
	"errors"

	"github.com/openziti/fabkeep/kernel/model"
)

const Measurement = "fabkeep_run"

// Sink receives a report for every finished run.
type Sink interface {
	Record(ctx context.Context, report *model.RunReport) error
	Close() error
}

// NewFromConfig builds the sinks enabled in cfg. With nothing configured it returns an empty MultiSink.
func NewFromConfig(cfg model.MetricsConfig) (*MultiSink, error) {
	multi := &MultiSink{}
	if cfg.TextfilePath != "" {
		multi.Sinks = append(multi.Sinks, NewTextfileSink(cfg.TextfilePath))
	}
	if cfg.InfluxV2.Enabled() {
		multi.Sinks = append(multi.Sinks, NewInfluxV2Sink(cfg.InfluxV2))
	}
	if cfg.InfluxV1.Enabled() {
		sink, err := NewInfluxV1Sink(cfg.InfluxV1)
		if err != nil {
			return nil, err
		}
		multi.Sinks = append(multi.Sinks, sink)
	}
	return multi, nil
}

// MultiSink fans a report out to every sink, attempting all of them.
type MultiSink struct {
	Sinks []Sink
}

func (m *MultiSink) Record(ctx context.Context, report *model.RunReport) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.Record(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func tags(report *model.RunReport) map[string]string {
	return map[string]string{
		"model":   report.ModelId,
		"state":   string(report.State),
		"trigger": report.Trigger,
	}
}

func fields(report *model.RunReport) map[string]interface{} {
	return map[string]interface{}{
		"run_id":            report.RunId,
		"duration_seconds":  report.Duration().Seconds(),
		"success":           boolToInt(report.State == model.StateDone || report.State == model.StatePlanned),
		"planned_actions":   len(report.Planned),
		"applied_actions":   len(report.Applied),
		"rollback_actions":  len(report.Rollback),
		"touched":           len(report.Touched()),
		"probes_total":      len(report.Probes),
		"probes_passed":     report.ProbesPassed(),
		"inspection_errors": len(report.InspectionErrors),
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
