// Package config defines the engine's typed configuration, loaded via
// spf13/viper with environment-variable overrides, and validated against
// the threshold/weight invariants the scoring and decision layers depend on.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// RuleWeights holds the configurable weight for each scoring rule. The
// validator enforces the weights sum to approximately 1.0.
type RuleWeights struct {
	ExactAmount        float64 `mapstructure:"exactAmount" validate:"gte=0,lte=1"`
	ExactReference     float64 `mapstructure:"exactReference" validate:"gte=0,lte=1"`
	FuzzyReference     float64 `mapstructure:"fuzzyReference" validate:"gte=0,lte=1"`
	TimestampProximity float64 `mapstructure:"timestampProximity" validate:"gte=0,lte=1"`
	AccountMatch       float64 `mapstructure:"accountMatch" validate:"gte=0,lte=1"`
	CompositeKey       float64 `mapstructure:"compositeKey" validate:"gte=0,lte=1"`
	BankMatch          float64 `mapstructure:"bankMatch" validate:"gte=0,lte=1"`
}

// Sum returns the total of all rule weights.
func (w RuleWeights) Sum() float64 {
	return w.ExactAmount + w.ExactReference + w.FuzzyReference + w.TimestampProximity +
		w.AccountMatch + w.CompositeKey + w.BankMatch
}

// DefaultRuleWeights matches the spec's §4.6 default weight table.
func DefaultRuleWeights() RuleWeights {
	return RuleWeights{
		ExactAmount:        0.25,
		ExactReference:     0.20,
		FuzzyReference:     0.15,
		TimestampProximity: 0.15,
		AccountMatch:       0.10,
		CompositeKey:       0.10,
		BankMatch:          0.05,
	}
}

// DecisionThresholds are the confidence cut points that map a score to a
// MatchStatus. The validator enforces Reject < NeedsReview < AutoMatch.
type DecisionThresholds struct {
	Reject     float64 `mapstructure:"reject" validate:"gte=0,lte=1"`
	NeedsReview float64 `mapstructure:"needsReview" validate:"gte=0,lte=1"`
	AutoMatch  float64 `mapstructure:"autoMatch" validate:"gte=0,lte=1"`
}

// DefaultDecisionThresholds matches the spec's stated defaults.
func DefaultDecisionThresholds() DecisionThresholds {
	return DecisionThresholds{Reject: 0.40, NeedsReview: 0.60, AutoMatch: 0.80}
}

// RetrievalConfig controls the candidate retriever's window/tolerance.
type RetrievalConfig struct {
	WindowHours         float64 `mapstructure:"windowHours" validate:"gt=0"`
	AmountTolerance     float64 `mapstructure:"amountTolerance" validate:"gt=0,lte=1"`
	RequireSameCurrency bool    `mapstructure:"requireSameCurrency"`
	ExcludeMatched      bool    `mapstructure:"excludeMatched"`
	MaxCandidates       int     `mapstructure:"maxCandidates" validate:"gt=0"`
	CompositeKeyWindowHours float64 `mapstructure:"compositeKeyWindowHours" validate:"gt=0"`
	CacheTTLSeconds     int     `mapstructure:"cacheTtlSeconds" validate:"gte=0"`
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		WindowHours: 48, AmountTolerance: 0.01, RequireSameCurrency: true,
		ExcludeMatched: true, MaxCandidates: 50, CompositeKeyWindowHours: 1,
		CacheTTLSeconds: 30,
	}
}

// ScoringConfig aggregates every weight/threshold/tie-break knob.
type ScoringConfig struct {
	Weights                RuleWeights         `mapstructure:"weights"`
	Thresholds             DecisionThresholds  `mapstructure:"thresholds"`
	MinSimilarity          float64             `mapstructure:"minSimilarity" validate:"gte=0,lte=1"`
	MaxTieDifference       float64             `mapstructure:"maxTieDifference" validate:"gte=0,lte=1"`
	MaxAlternatives        int                 `mapstructure:"maxAlternatives" validate:"gt=0"`
	AmbiguousCandidatesCount int               `mapstructure:"ambiguousCandidatesCount" validate:"gt=0"`
	StoreAlternatives      bool                `mapstructure:"storeAlternatives"`
	PreferRecentTieBreak   bool                `mapstructure:"preferRecentTieBreak"`
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: DefaultRuleWeights(), Thresholds: DefaultDecisionThresholds(),
		MinSimilarity: 0.6, MaxTieDifference: 0.05, MaxAlternatives: 5,
		AmbiguousCandidatesCount: 2, StoreAlternatives: true, PreferRecentTieBreak: true,
	}
}

// RetryPolicyConfig mirrors resilience.RetryConfig's fields for config
// loading.
type RetryPolicyConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts" validate:"gte=1"`
	InitialMs   int           `mapstructure:"initialMs" validate:"gt=0"`
	Base        float64       `mapstructure:"base" validate:"gt=1"`
	MaxDelayMs  int           `mapstructure:"maxDelayMs" validate:"gtefield=InitialMs"`
	Jitter      bool          `mapstructure:"jitter"`
}

func (c RetryPolicyConfig) Initial() time.Duration  { return time.Duration(c.InitialMs) * time.Millisecond }
func (c RetryPolicyConfig) MaxDelay() time.Duration { return time.Duration(c.MaxDelayMs) * time.Millisecond }

func DefaultRetryPolicyConfig() RetryPolicyConfig {
	return RetryPolicyConfig{MaxAttempts: 3, InitialMs: 500, Base: 2.0, MaxDelayMs: 30000, Jitter: true}
}

// BreakerPolicyConfig mirrors resilience.BreakerConfig's thresholds.
type BreakerPolicyConfig struct {
	FailureThreshold uint32 `mapstructure:"failureThreshold" validate:"gte=1"`
	SuccessThreshold uint32 `mapstructure:"successThreshold" validate:"gte=1"`
	TimeoutSeconds   int    `mapstructure:"timeoutSeconds" validate:"gte=1"`
}

func (c BreakerPolicyConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

func DefaultBreakerPolicyConfig() BreakerPolicyConfig {
	return BreakerPolicyConfig{FailureThreshold: 5, SuccessThreshold: 2, TimeoutSeconds: 60}
}

// EmailFetcherConfig controls the email puller's polling behavior.
type EmailFetcherConfig struct {
	PollIntervalMinutes int      `mapstructure:"pollIntervalMinutes" validate:"gte=1,lte=1440"`
	BatchSize           int      `mapstructure:"batchSize" validate:"gte=1,lte=500"`
	MarkAsRead          bool     `mapstructure:"markAsRead"`
	StartImmediately    bool     `mapstructure:"startImmediately"`
	SenderDomainAllowlist []string `mapstructure:"senderDomainAllowlist"`
	SubjectKeywords     []string `mapstructure:"subjectKeywords"`
	SubjectDenylist     []string `mapstructure:"subjectDenylist"`
	MinBodyLength       int      `mapstructure:"minBodyLength" validate:"gte=0"`
}

func DefaultEmailFetcherConfig() EmailFetcherConfig {
	return EmailFetcherConfig{PollIntervalMinutes: 5, BatchSize: 50, MarkAsRead: true, StartImmediately: true, MinBodyLength: 10}
}

// RetentionConfig controls how long emails and audit logs are kept.
type RetentionConfig struct {
	EmailDays int `mapstructure:"emailDays" validate:"gt=0"`
	LogDays   int `mapstructure:"logDays" validate:"gt=0"`
}

func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{EmailDays: 30, LogDays: 90}
}

// DispatcherConfig controls the action dispatcher's policy.
type DispatcherConfig struct {
	ActionPolicy          map[model.Outcome][]model.ActionKind `mapstructure:"-"`
	EscalateIfAmountAbove string                                `mapstructure:"escalateIfAmountAbove"`
	ActionTimeoutSeconds  int                                   `mapstructure:"actionTimeoutSeconds" validate:"gt=0"`
	DevelopmentMode       bool                                  `mapstructure:"developmentMode"`
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		ActionPolicy: map[model.Outcome][]model.ActionKind{
			model.OutcomeMatched:   {model.ActionMarkVerified, model.ActionUpdateStatus, model.ActionNotifyExternal},
			model.OutcomeAmbiguous: {model.ActionCreateTicket, model.ActionSendEmail, model.ActionEscalate},
			model.OutcomeUnmatched: {model.ActionFlagUnmatched, model.ActionCreateTicket, model.ActionSendEmail},
			model.OutcomeReview:    {model.ActionCreateTicket, model.ActionSendEmail},
			model.OutcomeRejected:  {},
		},
		EscalateIfAmountAbove: "1000000.00",
		ActionTimeoutSeconds:  30,
		DevelopmentMode:       true,
	}
}

// OrchestratorConfig controls the cycle scheduler.
type OrchestratorConfig struct {
	IntervalSeconds    int  `mapstructure:"intervalSeconds" validate:"gte=60,lte=86400"`
	StopGraceSeconds   int  `mapstructure:"stopGraceSeconds" validate:"gt=0"`
	ErrorBackoffSeconds int `mapstructure:"errorBackoffSeconds" validate:"gt=0"`
	SourceTimeoutSeconds int `mapstructure:"sourceTimeoutSeconds" validate:"gt=0"`
	ActionsEnabled     bool `mapstructure:"actionsEnabled"`
}

func (c OrchestratorConfig) Interval() time.Duration { return time.Duration(c.IntervalSeconds) * time.Second }
func (c OrchestratorConfig) StopGrace() time.Duration { return time.Duration(c.StopGraceSeconds) * time.Second }
func (c OrchestratorConfig) ErrorBackoff() time.Duration { return time.Duration(c.ErrorBackoffSeconds) * time.Second }
func (c OrchestratorConfig) SourceTimeout() time.Duration { return time.Duration(c.SourceTimeoutSeconds) * time.Second }

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		IntervalSeconds: 300, StopGraceSeconds: 30, ErrorBackoffSeconds: 60,
		SourceTimeoutSeconds: 30, ActionsEnabled: true,
	}
}

// Config is the top-level, validated configuration for the engine.
type Config struct {
	Scoring             ScoringConfig       `mapstructure:"scoring"`
	Retrieval           RetrievalConfig     `mapstructure:"retrieval"`
	Retry               RetryPolicyConfig   `mapstructure:"retry"`
	Breaker             BreakerPolicyConfig `mapstructure:"breaker"`
	EmailFetcher        EmailFetcherConfig  `mapstructure:"emailFetcher"`
	Retention           RetentionConfig     `mapstructure:"retention"`
	Dispatcher          DispatcherConfig    `mapstructure:"dispatcher"`
	Orchestrator        OrchestratorConfig  `mapstructure:"orchestrator"`
	DeduplicationEnabled bool               `mapstructure:"deduplicationEnabled"`
	BankAliases         []model.BankAlias   `mapstructure:"bankAliases"`

	DatabaseDSN         string `mapstructure:"databaseDsn"`
	TransactionSourceURL string `mapstructure:"transactionSourceUrl"`
	EmailSourceURL      string `mapstructure:"emailSourceUrl"`
	AdminListenAddr     string `mapstructure:"adminListenAddr"`
	LogLevel            string `mapstructure:"logLevel"`
}

// Default returns a complete configuration using every documented default.
func Default() *Config {
	return &Config{
		Scoring:              DefaultScoringConfig(),
		Retrieval:            DefaultRetrievalConfig(),
		Retry:                DefaultRetryPolicyConfig(),
		Breaker:              DefaultBreakerPolicyConfig(),
		EmailFetcher:         DefaultEmailFetcherConfig(),
		Retention:            DefaultRetentionConfig(),
		Dispatcher:           DefaultDispatcherConfig(),
		Orchestrator:         DefaultOrchestratorConfig(),
		DeduplicationEnabled: true,
		BankAliases:          DefaultBankAliases(),
		AdminListenAddr:      ":8089",
		LogLevel:             "info",
	}
}

// DefaultBankAliases ships a small starter alias table for common Nigerian
// banks; operators extend it via config, per the spec's "data, not code"
// note on alias-table growth.
func DefaultBankAliases() []model.BankAlias {
	return []model.BankAlias{
		{Alias: "gtbank", Code: "GTB", Name: "Guaranty Trust Bank", Category: "commercial", Domains: []string{"gtbank.com"}},
		{Alias: "zenith", Code: "ZEN", Name: "Zenith Bank", Category: "commercial", Domains: []string{"zenithbank.com"}},
		{Alias: "access", Code: "ACC", Name: "Access Bank", Category: "commercial", Domains: []string{"accessbankplc.com"}},
		{Alias: "uba", Code: "UBA", Name: "United Bank for Africa", Category: "commercial", Domains: []string{"ubagroup.com"}},
		{Alias: "firstbank", Code: "FBN", Name: "First Bank of Nigeria", Category: "commercial", Domains: []string{"firstbanknigeria.com"}},
	}
}

// Load reads configuration from path (if non-empty), overlays environment
// variables prefixed RECONCILER_, and validates the result. A missing file
// at path is not an error when path is empty; defaults are always the base.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	applyDefaultsToViper(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	out := Default()
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if out.Dispatcher.ActionPolicy == nil {
		out.Dispatcher.ActionPolicy = DefaultDispatcherConfig().ActionPolicy
	}

	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// applyDefaultsToViper seeds viper's default layer from a built Config so
// AutomaticEnv overrides compose correctly with nested struct defaults.
func applyDefaultsToViper(v *viper.Viper, cfg *Config) {
	v.SetDefault("orchestrator.intervalSeconds", cfg.Orchestrator.IntervalSeconds)
	v.SetDefault("orchestrator.stopGraceSeconds", cfg.Orchestrator.StopGraceSeconds)
	v.SetDefault("orchestrator.errorBackoffSeconds", cfg.Orchestrator.ErrorBackoffSeconds)
	v.SetDefault("orchestrator.sourceTimeoutSeconds", cfg.Orchestrator.SourceTimeoutSeconds)
	v.SetDefault("orchestrator.actionsEnabled", cfg.Orchestrator.ActionsEnabled)
	v.SetDefault("retrieval.windowHours", cfg.Retrieval.WindowHours)
	v.SetDefault("retrieval.amountTolerance", cfg.Retrieval.AmountTolerance)
	v.SetDefault("retrieval.maxCandidates", cfg.Retrieval.MaxCandidates)
	v.SetDefault("scoring.thresholds.reject", cfg.Scoring.Thresholds.Reject)
	v.SetDefault("scoring.thresholds.needsReview", cfg.Scoring.Thresholds.NeedsReview)
	v.SetDefault("scoring.thresholds.autoMatch", cfg.Scoring.Thresholds.AutoMatch)
	v.SetDefault("adminListenAddr", cfg.AdminListenAddr)
	v.SetDefault("logLevel", cfg.LogLevel)
}

var validate = validator.New()

// Validate enforces the policy invariants spec.md §4.6/§4.10/§7.6 requires
// at startup: weights sum to ≈1.0 and thresholds are strictly ordered.
// A violation aborts startup, per the "Policy violation" error category.
func Validate(c *Config) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	sum := c.Scoring.Weights.Sum()
	if sum < 0.95 || sum > 1.05 {
		return fmt.Errorf("config: rule weights sum to %.4f, must be within [0.95, 1.05]", sum)
	}

	th := c.Scoring.Thresholds
	if !(th.Reject < th.NeedsReview && th.NeedsReview < th.AutoMatch) {
		return fmt.Errorf("config: decision thresholds must satisfy reject(%.2f) < needsReview(%.2f) < autoMatch(%.2f)",
			th.Reject, th.NeedsReview, th.AutoMatch)
	}

	if c.Retry.MaxDelayMs < c.Retry.InitialMs {
		return fmt.Errorf("config: retry.maxDelayMs must be >= retry.initialMs")
	}

	return nil
}
