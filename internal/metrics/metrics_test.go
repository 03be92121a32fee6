package metrics

import (
	"testing"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

func TestExporterObserveRegistersCycleDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	exporter, err := NewExporter(reg)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	record := model.NewRunRecord("cycle-1")
	record.Status = model.CycleSuccess
	record.Duration = 2 * time.Second
	record.Phases = []model.PhaseResult{{Name: model.PhaseMatch, Duration: time.Second}}
	record.StatusCounts[model.StatusAutoMatched] = 3

	exporter.Observe(record)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "reconciler_cycle_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reconciler_cycle_duration_seconds metric not found")
	}
}

func TestAggregateComputesSuccessRateAndAverages(t *testing.T) {
	now := time.Now().UTC()
	history := []*model.RunRecord{
		{Started: now.Add(-time.Hour), Status: model.CycleSuccess, Phases: []model.PhaseResult{
			{Name: model.PhaseFetchEmails, Stored: 4, Duration: 100 * time.Millisecond},
		}},
		{Started: now.Add(-2 * time.Hour), Status: model.CycleFailed, Phases: []model.PhaseResult{
			{Name: model.PhaseFetchEmails, Stored: 2, Duration: 200 * time.Millisecond},
		}},
	}

	agg := Aggregate(history)
	if agg.SuccessRate24h != 0.5 {
		t.Fatalf("expected success rate 0.5, got %v", agg.SuccessRate24h)
	}
	if agg.AvgEmailsPerCycle != 3 {
		t.Fatalf("expected avg 3 emails per cycle, got %v", agg.AvgEmailsPerCycle)
	}
}

func TestAggregateEmptyHistoryIsZeroValue(t *testing.T) {
	agg := Aggregate(nil)
	if agg.SuccessRate24h != 0 || agg.AvgEmailsPerCycle != 0 {
		t.Fatalf("expected zero-value aggregates for empty history, got %+v", agg)
	}
}
