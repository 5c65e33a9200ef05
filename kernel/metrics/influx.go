package metrics

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxdb1 "github.com/influxdata/influxdb1-client/v2"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/pkg/errors"
)

// InfluxV2Sink writes one point per run to an InfluxDB 2.x bucket.
type InfluxV2Sink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

func NewInfluxV2Sink(cfg model.InfluxConfig) *InfluxV2Sink {
	client := influxdb2.NewClient(cfg.Url, cfg.Token)
	return &InfluxV2Sink{client: client, writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}
}

func (s *InfluxV2Sink) Record(ctx context.Context, report *model.RunReport) error {
	point := influxdb2.NewPoint(Measurement, tags(report), fields(report), finishedAt(report))
	return errors.Wrap(s.writer.WritePoint(ctx, point), "unable to write run to influxdb v2")
}

func (s *InfluxV2Sink) Close() error {
	s.client.Close()
	return nil
}

// InfluxV1Sink writes one point per run to an InfluxDB 1.x database.
type InfluxV1Sink struct {
	client   influxdb1.Client
	database string
}

func NewInfluxV1Sink(cfg model.InfluxConfig) (*InfluxV1Sink, error) {
	client, err := influxdb1.NewHTTPClient(influxdb1.HTTPConfig{
		Addr:     cfg.Url,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to create influxdb v1 client")
	}
	return &InfluxV1Sink{client: client, database: cfg.Database}, nil
}

func (s *InfluxV1Sink) Record(_ context.Context, report *model.RunReport) error {
	batch, err := influxdb1.NewBatchPoints(influxdb1.BatchPointsConfig{Database: s.database, Precision: "s"})
	if err != nil {
		return errors.Wrap(err, "unable to create batch")
	}
	point, err := influxdb1.NewPoint(Measurement, tags(report), fields(report), finishedAt(report))
	if err != nil {
		return errors.Wrap(err, "unable to create point")
	}
	batch.AddPoint(point)
	return errors.Wrap(s.client.Write(batch), "unable to write run to influxdb v1")
}

func (s *InfluxV1Sink) Close() error {
	return s.client.Close()
}

func finishedAt(report *model.RunReport) time.Time {
	if report.FinishedAt.IsZero() {
		return time.Now()
	}
	return report.FinishedAt
}
