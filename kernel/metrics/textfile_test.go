package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openziti/fabkeep/kernel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReport(state model.RunState) *model.RunReport {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.RunReport{
		RunId:      "run-1",
		ModelId:    "app",
		Trigger:    "cli",
		State:      state,
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Applied: []model.ActionRecord{
			{Op: "update", Ref: "proxy_site:/etc/nginx/sites-available/app.conf"},
			{Op: "reload", Ref: "service_unit:nginx"},
		},
		Probes: []model.ProbeResult{{Name: "app", Pass: true}, {Name: "api", Pass: false}},
	}
}

func TestTextfileSink_WritesGauges(t *testing.T) {
	dir := t.TempDir()
	sink := NewTextfileSink(dir)

	require.NoError(t, sink.Record(context.Background(), testReport(model.StateFailed)))

	data, err := os.ReadFile(filepath.Join(dir, "fabkeep_app.prom"))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `fabkeep_last_run_success{model="app"} 0`)
	assert.Contains(t, text, `fabkeep_last_run_actions_applied{model="app"} 2`)
	assert.Contains(t, text, `fabkeep_last_run_probes_passed{model="app"} 1`)
	assert.Contains(t, text, `fabkeep_last_run_state{model="app",state="failed"} 1`)
	assert.Contains(t, text, `fabkeep_last_run_state{model="app",state="done"} 0`)
	assert.Contains(t, text, `fabkeep_last_run_duration_seconds{model="app"} 3`)
}

func TestTextfileSink_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.prom")
	sink := NewTextfileSink(path)
	require.NoError(t, sink.Record(context.Background(), testReport(model.StateDone)))
	assert.FileExists(t, path)
}

func TestNewFromConfig(t *testing.T) {
	multi, err := NewFromConfig(model.MetricsConfig{})
	require.NoError(t, err)
	assert.Empty(t, multi.Sinks)
	require.NoError(t, multi.Record(context.Background(), testReport(model.StateDone)))

	multi, err = NewFromConfig(model.MetricsConfig{
		TextfilePath: t.TempDir(),
		InfluxV1:     model.InfluxConfig{Url: "http://127.0.0.1:8086", Database: "fabkeep"},
		InfluxV2:     model.InfluxConfig{Url: "http://127.0.0.1:8087", Org: "ops", Bucket: "fabkeep"},
	})
	require.NoError(t, err)
	assert.Len(t, multi.Sinks, 3)
	require.NoError(t, multi.Close())
}

func TestFields(t *testing.T) {
	f := fields(testReport(model.StateDone))
	assert.Equal(t, 1, f["success"])
	assert.Equal(t, 2, f["touched"])
	assert.Equal(t, 2, f["probes_total"])
	assert.Equal(t, 3.0, f["duration_seconds"])
}
