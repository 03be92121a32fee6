// Package metrics exposes the per-cycle accumulator as Prometheus series
// and OTel instruments, and computes the aggregates the admin API's metrics
// route reports over the orchestrator's bounded window of recent cycles.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/fntelecomllc/bankreconciler/internal/model"
)

// Exporter registers and updates the reconciliation engine's Prometheus
// series, and mirrors the same cycle/phase measurements onto an OTel meter
// so a trace/metrics backend can be swapped in without touching callers.
type Exporter struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	cycleDuration   *prometheus.HistogramVec
	matchesTotal    *prometheus.CounterVec
	ruleContribution *prometheus.GaugeVec
	confidenceBucket *prometheus.GaugeVec
	phaseDuration   *prometheus.HistogramVec
	cyclesTotal     *prometheus.CounterVec

	meter             metric.Meter
	cyclesCounter     metric.Int64Counter
	matchesCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// NewExporter registers every series against reg. A nil reg uses
// prometheus.DefaultRegisterer, matching the teacher's MetricsCollector
// convention. Handler() gathers from this same reg (falling back to
// prometheus.DefaultGatherer when reg doesn't also implement Gatherer), so a
// private registry passed here is the one actually served.
func NewExporter(reg prometheus.Registerer) (*Exporter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer, ok := reg.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}

	e := &Exporter{
		registry: reg,
		gatherer: gatherer,
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "reconciler_cycle_duration_seconds",
			Help: "Duration of a full fetch-poll-match cycle in seconds.",
		}, []string{"status"}),
		matchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_matches_total",
			Help: "Total number of match decisions, by status.",
		}, []string{"status"}),
		ruleContribution: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reconciler_rule_contribution",
			Help: "Average raw score contributed by a scoring rule in the most recent cycle.",
		}, []string{"rule"}),
		confidenceBucket: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reconciler_confidence_bucket",
			Help: "Count of decisions falling into a confidence bucket in the most recent cycle.",
		}, []string{"bucket"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "reconciler_phase_duration_seconds",
			Help: "Duration of one orchestrator phase in seconds.",
		}, []string{"phase"}),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_cycles_total",
			Help: "Total number of orchestrator cycles run, by status.",
		}, []string{"status"}),
	}
	e.registry.MustRegister(e.cycleDuration, e.matchesTotal, e.ruleContribution, e.confidenceBucket, e.phaseDuration, e.cyclesTotal)

	e.meter = otel.Meter("bankreconciler")
	var err error
	if e.cyclesCounter, err = e.meter.Int64Counter(
		"reconciler.cycles.total",
		metric.WithDescription("Total number of reconciliation cycles run"),
	); err != nil {
		return nil, err
	}
	if e.matchesCounter, err = e.meter.Int64Counter(
		"reconciler.matches.total",
		metric.WithDescription("Total number of match decisions"),
	); err != nil {
		return nil, err
	}
	if e.durationHistogram, err = e.meter.Float64Histogram(
		"reconciler.cycle.duration.seconds",
		metric.WithDescription("Reconciliation cycle duration in seconds"),
	); err != nil {
		return nil, err
	}
	return e, nil
}

// Observe folds one completed RunRecord's measurements into both the
// Prometheus series and the OTel instruments.
func (e *Exporter) Observe(record *model.RunRecord) {
	ctx := context.Background()
	status := string(record.Status)

	e.cycleDuration.WithLabelValues(status).Observe(record.Duration.Seconds())
	e.cyclesTotal.WithLabelValues(status).Inc()
	e.cyclesCounter.Add(ctx, 1, metric.WithAttributes())
	e.durationHistogram.Record(ctx, record.Duration.Seconds())

	for matchStatus, count := range record.StatusCounts {
		e.matchesTotal.WithLabelValues(string(matchStatus)).Add(float64(count))
		e.matchesCounter.Add(ctx, int64(count))
	}

	for name, contribution := range record.RuleContributions {
		e.ruleContribution.WithLabelValues(name).Set(contribution.Avg())
	}

	e.confidenceBucket.WithLabelValues("gte90").Set(float64(record.ConfidenceHistogram.GTE90))
	e.confidenceBucket.WithLabelValues("80to90").Set(float64(record.ConfidenceHistogram.Between80And90))
	e.confidenceBucket.WithLabelValues("60to80").Set(float64(record.ConfidenceHistogram.Between60And80))
	e.confidenceBucket.WithLabelValues("40to60").Set(float64(record.ConfidenceHistogram.Between40And60))
	e.confidenceBucket.WithLabelValues("below40").Set(float64(record.ConfidenceHistogram.Below40))

	for _, phase := range record.Phases {
		e.phaseDuration.WithLabelValues(string(phase.Name)).Observe(phase.Duration.Seconds())
	}
}

// Handler returns an HTTP handler exposing the Prometheus text exposition
// format, matching the teacher's MetricsCollector.Handler convention.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})
}

// Aggregates summarizes a rolling window of recent cycles: success rate
// over the last 24h, average transactions per cycle, and per-phase
// durations, per §4.9.
type Aggregates struct {
	SuccessRate24h        float64
	AvgEmailsPerCycle     float64
	AvgTransactionsPerCycle float64
	AvgPhaseDuration      map[model.PhaseName]time.Duration
}

// Aggregate computes Aggregates over history, a rolling window of recent
// cycles as maintained by the orchestrator.
func Aggregate(history []*model.RunRecord) Aggregates {
	agg := Aggregates{AvgPhaseDuration: make(map[model.PhaseName]time.Duration)}
	if len(history) == 0 {
		return agg
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	var within24h, succeeded24h int
	var totalEmails, totalTxns int
	phaseDurationSum := make(map[model.PhaseName]time.Duration)
	phaseCount := make(map[model.PhaseName]int)

	for _, r := range history {
		if r.Started.After(cutoff) {
			within24h++
			if r.Status == model.CycleSuccess || r.Status == model.CycleCompletedWithErrors {
				succeeded24h++
			}
		}
		for _, phase := range r.Phases {
			phaseDurationSum[phase.Name] += phase.Duration
			phaseCount[phase.Name]++
			switch phase.Name {
			case model.PhaseFetchEmails:
				totalEmails += phase.Stored
			case model.PhasePollTxns:
				totalTxns += phase.Stored
			}
		}
	}

	if within24h > 0 {
		agg.SuccessRate24h = float64(succeeded24h) / float64(within24h)
	}
	agg.AvgEmailsPerCycle = float64(totalEmails) / float64(len(history))
	agg.AvgTransactionsPerCycle = float64(totalTxns) / float64(len(history))
	for name, sum := range phaseDurationSum {
		if phaseCount[name] > 0 {
			agg.AvgPhaseDuration[name] = sum / time.Duration(phaseCount[name])
		}
	}
	return agg
}
