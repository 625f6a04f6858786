package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/ocppcore/core/metrics"
	"github.com/kilianp07/ocppcore/infra/logger"
)

// InfluxSink writes protocol events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
	timeout  time.Duration
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
		timeout:  5 * time.Second,
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordMessage writes one ocpp_message point.
func (s *InfluxSink) RecordMessage(ev coremetrics.MessageEvent) error {
	p := write.NewPointWithMeasurement("ocpp_message").
		AddTag("local", ev.Local).
		AddTag("peer", ev.Peer).
		AddTag("direction", ev.Direction).
		AddTag("transport", ev.Transport).
		AddTag("type", ev.Type)
	if ev.Action != "" {
		p = p.AddTag("action", ev.Action)
	}
	p = p.AddField("id", ev.ID).
		AddField("hops", ev.Hops).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordRequestLatency writes the outcome of an outbound Call.
func (s *InfluxSink) RecordRequestLatency(ev coremetrics.RequestLatency) error {
	p := write.NewPointWithMeasurement("ocpp_request").
		AddTag("peer", ev.Peer).
		AddTag("action", ev.Action).
		AddTag("outcome", ev.Outcome).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordDispatch writes the summary of one inbound dispatch.
func (s *InfluxSink) RecordDispatch(ev coremetrics.DispatchEvent) error {
	p := write.NewPointWithMeasurement("ocpp_dispatch").
		AddTag("action", ev.Action).
		AddTag("synthesized", strconv.FormatBool(ev.Synthesized)).
		AddField("handlers", ev.Handlers).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordFault writes a handled failure.
func (s *InfluxSink) RecordFault(ev coremetrics.FaultEvent) error {
	p := write.NewPointWithMeasurement("ocpp_fault").
		AddTag("kind", ev.Kind).
		AddTag("peer", ev.Peer)
	if ev.Action != "" {
		p = p.AddTag("action", ev.Action)
	}
	if ev.Handler != "" {
		p = p.AddTag("handler", ev.Handler)
	}
	p = p.AddField("error", ev.Error).SetTime(ev.Time)
	return s.write(p)
}

// Close releases the client's resources.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
