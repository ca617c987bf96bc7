// Package telemetry registers the OpenTelemetry instruments of the scenario
// engine. Instruments are created from whatever MeterProvider is installed
// globally; without an SDK they are no-ops.
package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName scopes every instrument of the engine.
const InstrumentationName = "github.com/NicolasMoreauCPage/MedDataBridge-sub000"

// ReplayMetrics counts dispatched steps and measures runs.
type ReplayMetrics struct {
	steps        metric.Int64Counter
	runs         metric.Int64Counter
	activeRuns   metric.Int64UpDownCounter
	runDuration  metric.Float64Histogram
	sendDuration metric.Float64Histogram
}

// NewReplayMetrics creates the replay instruments on meter.
func NewReplayMetrics(meter metric.Meter) (*ReplayMetrics, error) {
	m := &ReplayMetrics{}
	var err error
	if m.steps, err = meter.Int64Counter("replay.steps",
		metric.WithDescription("Replayed steps by outcome"),
		metric.WithUnit("{step}")); err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter("replay.runs",
		metric.WithDescription("Finished runs by terminal status"),
		metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	if m.activeRuns, err = meter.Int64UpDownCounter("replay.runs.active",
		metric.WithDescription("Runs currently executing"),
		metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram("replay.run.duration",
		metric.WithDescription("Wall-clock duration of a run"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.sendDuration, err = meter.Float64Histogram("replay.send.duration",
		metric.WithDescription("Round trip of one send, acknowledgement included"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000)); err != nil {
		return nil, err
	}
	return m, nil
}

// Global creates the replay instruments on the global MeterProvider.
func Global() (*ReplayMetrics, error) {
	return NewReplayMetrics(otel.Meter(InstrumentationName))
}

// RunStarted marks a run as executing.
func (m *ReplayMetrics) RunStarted(ctx context.Context, protocol string) {
	if m == nil {
		return
	}
	m.activeRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("protocol", protocol)))
}

// RunFinished records the terminal status and duration of a run.
func (m *ReplayMetrics) RunFinished(ctx context.Context, protocol, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	proto := attribute.String("protocol", protocol)
	m.activeRuns.Add(ctx, -1, metric.WithAttributes(proto))
	m.runs.Add(ctx, 1, metric.WithAttributes(proto, attribute.String("status", status)))
	m.runDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(proto, attribute.String("status", status)))
}

// StepLogged counts one step log. sent is the duration of the network send,
// zero when nothing was dispatched.
func (m *ReplayMetrics) StepLogged(ctx context.Context, format, status string, sent time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("format", format), attribute.String("status", status))
	m.steps.Add(ctx, 1, attrs)
	if sent > 0 {
		m.sendDuration.Record(ctx, float64(sent)/float64(time.Millisecond), attrs)
	}
}

// HTTPMetrics records request counts and latency by route pattern.
func HTTPMetrics(meter metric.Meter) (echo.MiddlewareFunc, error) {
	requests, err := meter.Int64Counter("http.server.requests",
		metric.WithDescription("HTTP requests by route and status"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("http.server.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			// Route pattern, not the raw path, to keep cardinality bounded.
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			attrs := metric.WithAttributes(
				attribute.String("http.method", c.Request().Method),
				attribute.String("http.route", route),
				attribute.String("http.status_code", strconv.Itoa(status)),
			)
			ctx := c.Request().Context()
			requests.Add(ctx, 1, attrs)
			latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)
			return err
		}
	}, nil
}
