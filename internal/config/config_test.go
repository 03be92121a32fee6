package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsBadWeightSum(t *testing.T) {
	cfg := Default()
	cfg.Scoring.Weights.ExactAmount = 0.9
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation failure for weight sum out of range")
	}
}

func TestValidateRejectsUnorderedThresholds(t *testing.T) {
	cfg := Default()
	cfg.Scoring.Thresholds.Reject = 0.7
	cfg.Scoring.Thresholds.NeedsReview = 0.6
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation failure for unordered thresholds")
	}
}

func TestLoadWithNoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Orchestrator.IntervalSeconds != 300 {
		t.Fatalf("expected default interval 300, got %d", cfg.Orchestrator.IntervalSeconds)
	}
}
