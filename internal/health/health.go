// Package health implements the Health & Metrics component (C12):
// aggregated visibility into judge health, breaker state, and
// degradation status, exported through OpenTelemetry instruments so a
// host's existing metrics pipeline picks it up without bespoke wiring.
package health

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/council/internal/breaker"
	"github.com/ashita-ai/council/internal/degradation"
	"github.com/ashita-ai/council/internal/judge"
)

// Snapshot is a point-in-time view across every subsystem a session
// depends on.
type Snapshot struct {
	Judges      map[string]judge.HealthMetrics
	Breakers    map[string]breaker.Stats
	Degradation map[string]degradation.Level
}

// Reporter samples registries into a Snapshot and mirrors that snapshot
// into OpenTelemetry gauge instruments on demand.
type Reporter struct {
	judges     map[string]judge.Judge
	breakers   *breaker.Registry
	degrades   *degradation.Table
	components []string

	judgeErrorRate   metric.Float64Gauge
	judgeReviews     metric.Int64Counter
	breakerState     metric.Int64Gauge
	degradationLevel metric.Int64Gauge
}

// NewReporter constructs a Reporter backed by meter for instrument
// registration. judges/breakers/degrades may be nil if that subsystem
// isn't wired in a given deployment (e.g. breakers disabled via
// enable_circuit_breakers=false).
func NewReporter(meter metric.Meter, judges map[string]judge.Judge, breakers *breaker.Registry, degrades *degradation.Table, degradedComponents []string) (*Reporter, error) {
	r := &Reporter{judges: judges, breakers: breakers, degrades: degrades, components: degradedComponents}

	var err error
	r.judgeErrorRate, err = meter.Float64Gauge("council.judge.error_rate",
		metric.WithDescription("rolling error rate per judge"))
	if err != nil {
		return nil, fmt.Errorf("health: create judge error rate gauge: %w", err)
	}
	r.judgeReviews, err = meter.Int64Counter("council.judge.reviews_total",
		metric.WithDescription("total reviews completed per judge"))
	if err != nil {
		return nil, fmt.Errorf("health: create judge reviews counter: %w", err)
	}
	r.breakerState, err = meter.Int64Gauge("council.breaker.state",
		metric.WithDescription("0=closed 1=open 2=half-open, per named downstream"))
	if err != nil {
		return nil, fmt.Errorf("health: create breaker state gauge: %w", err)
	}
	r.degradationLevel, err = meter.Int64Gauge("council.degradation.level",
		metric.WithDescription("-1=full capability, else index into the component's degradation ladder"))
	if err != nil {
		return nil, fmt.Errorf("health: create degradation level gauge: %w", err)
	}
	return r, nil
}

// Snapshot samples every configured subsystem.
func (r *Reporter) Snapshot() Snapshot {
	s := Snapshot{
		Judges:      make(map[string]judge.HealthMetrics, len(r.judges)),
		Breakers:    map[string]breaker.Stats{},
		Degradation: map[string]degradation.Level{},
	}
	for id, j := range r.judges {
		s.Judges[id] = j.HealthMetrics()
	}
	if r.breakers != nil {
		s.Breakers = r.breakers.Snapshot()
	}
	if r.degrades != nil {
		for _, name := range r.components {
			if pol := r.degrades.Get(name); pol != nil {
				if level, ok := pol.Current(); ok {
					s.Degradation[name] = level
				}
			}
		}
	}
	return s
}

// Report samples every subsystem and records the result into the
// registered OpenTelemetry instruments.
func (r *Reporter) Report(ctx context.Context) {
	snap := r.Snapshot()

	for id, m := range snap.Judges {
		attr := metric.WithAttributes(judgeAttr(id))
		r.judgeErrorRate.Record(ctx, m.ErrorRate, attr)
		r.judgeReviews.Add(ctx, int64(m.TotalReviews), attr) //nolint:gosec // review counts are bounded by realistic session volume
	}

	for name, stats := range snap.Breakers {
		r.breakerState.Record(ctx, int64(stats.State), metric.WithAttributes(breakerAttr(name)))
	}

	if r.degrades != nil {
		for _, component := range r.components {
			if r.degrades.Get(component) == nil {
				continue
			}
			idx := -1
			if level, ok := snap.Degradation[component]; ok {
				idx = degradationIndex(r.degrades, component, level)
			}
			r.degradationLevel.Record(ctx, int64(idx), metric.WithAttributes(componentAttr(component)))
		}
	}
}
