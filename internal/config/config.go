// Package config defines the engine configuration. Every policy constant
// the turn machinery consults (recursion depth, gas limit, buffer
// ceilings, entropy bands, founder confidence caps, spawn budgets) lives
// here so deployments can tune thresholds without a rebuild. The numeric
// defaults mirror the values the engine was tuned with; only the shape of
// each threshold's effect is load-bearing.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete engine configuration.
type Config struct {
	Provider       ProviderConfig       `mapstructure:"provider"`
	Turn           TurnConfig           `mapstructure:"turn"`
	Council        CouncilConfig        `mapstructure:"council"`
	Founder        FounderConfig        `mapstructure:"founder"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Specialization SpecializationConfig `mapstructure:"specialization"`
	Stability      StabilityConfig      `mapstructure:"stability"`
	Session        SessionConfig        `mapstructure:"session"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// ProviderConfig selects and tunes the model backend.
type ProviderConfig struct {
	// Backend names the registered backend: "command" shells out to a
	// model CLI, "replay" replays a scripted transcript.
	Backend string `mapstructure:"backend"`
	// Command is the CLI the command backend runs.
	Command string `mapstructure:"command"`
	// Model is passed through to the backend when non-empty.
	Model string `mapstructure:"model"`
	// MaxTokens caps one completion.
	MaxTokens int `mapstructure:"max_tokens"`
	// ReplayFile is the transcript the replay backend reads.
	ReplayFile string `mapstructure:"replay_file"`
}

// TurnConfig bounds one orchestrator turn.
type TurnConfig struct {
	// MaxDepth is the recursion limit; exceeding it is fatal.
	MaxDepth int `mapstructure:"max_depth"`
	// GasLimit caps tool calls per turn; further dispatch is terminated.
	GasLimit int `mapstructure:"gas_limit"`
	// MaxErrorRun bounds corrective recursion on consecutive failed turns.
	MaxErrorRun int `mapstructure:"max_error_run"`
	// TextBufferBytes is the hard cap on the turn's accumulated text.
	TextBufferBytes int `mapstructure:"text_buffer_bytes"`
	// ToolStreamSoftBytes is the soft cap on a live per-call argument buffer.
	ToolStreamSoftBytes int `mapstructure:"tool_stream_soft_bytes"`
	// ToolResultBytes is the ceiling on a finalized tool result.
	ToolResultBytes int `mapstructure:"tool_result_bytes"`
	// ProactiveTimeoutMs bounds the wait for proactive tool planning.
	ProactiveTimeoutMs int `mapstructure:"proactive_timeout_ms"`
	// PacingDelayMs is the inter-dispatch delay under high pressure.
	PacingDelayMs int `mapstructure:"pacing_delay_ms"`
	// WatchdogSeconds is how long the active-turn handle may be held
	// before the watchdog force-releases it.
	WatchdogSeconds int `mapstructure:"watchdog_seconds"`
	// AuditEnabled runs the post-turn audit pass.
	AuditEnabled bool `mapstructure:"audit_enabled"`
}

// ProactiveTimeout returns the proactive planning wait as a Duration.
func (c *TurnConfig) ProactiveTimeout() time.Duration {
	return time.Duration(c.ProactiveTimeoutMs) * time.Millisecond
}

// PacingDelay returns the high-pressure pacing delay as a Duration.
func (c *TurnConfig) PacingDelay() time.Duration {
	return time.Duration(c.PacingDelayMs) * time.Millisecond
}

// WatchdogTimeout returns the active-turn watchdog bound as a Duration.
func (c *TurnConfig) WatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogSeconds) * time.Second
}

// CouncilConfig tunes consensus derivation.
type CouncilConfig struct {
	// VoteWindow is how many recent votes strategy/entropy derive from.
	VoteWindow int `mapstructure:"vote_window"`
	// EntropyFriction marks the disagreement band where mood turns FRICTION.
	EntropyFriction float64 `mapstructure:"entropy_friction"`
	// EntropyFracture is the threshold where consensus is forced to RESEARCH.
	EntropyFracture float64 `mapstructure:"entropy_fracture"`
	// OverrideConfidence is the founder confidence granting override authority.
	OverrideConfidence float64 `mapstructure:"override_confidence"`
	// EuphoriaStreak is the success streak that can set mood EUPHORIA.
	EuphoriaStreak int `mapstructure:"euphoria_streak"`
	// FlowDecaySeconds is how long flow-state holds before stale decay.
	FlowDecaySeconds int `mapstructure:"flow_decay_seconds"`
	// FlowDecayStep is how many points stale decay relaxes toward neutral.
	FlowDecayStep float64 `mapstructure:"flow_decay_step"`
	// PanicCooldownCycles is the default vote-suppression span after panic.
	PanicCooldownCycles int `mapstructure:"panic_cooldown_cycles"`
}

// FlowDecayAfter returns the stale-decay delay as a Duration.
func (c *CouncilConfig) FlowDecayAfter() time.Duration {
	return time.Duration(c.FlowDecaySeconds) * time.Second
}

// FounderConfig tunes the override-authority agent.
type FounderConfig struct {
	// Profile selects the dampening posture: "balanced", "recovery", "demo".
	Profile string `mapstructure:"profile"`
	// ConfidenceCap bounds the founder's vote weight.
	ConfidenceCap float64 `mapstructure:"confidence_cap"`
	// RiskDampening scales confidence down under high-risk conditions.
	RiskDampening float64 `mapstructure:"risk_dampening"`
	// MomentumBoost is added per healthy streak step, up to ConfidenceCap.
	MomentumBoost float64 `mapstructure:"momentum_boost"`
	// UncertaintyCap bounds confidence when structural uncertainty is signalled.
	UncertaintyCap float64 `mapstructure:"uncertainty_cap"`
}

// SchedulerConfig tunes isolated-stream planning and merging.
type SchedulerConfig struct {
	// SpawnCapPerTurn caps planned streams per turn.
	SpawnCapPerTurn int `mapstructure:"spawn_cap_per_turn"`
	// ConcurrencyCap is the policy-engine cap on simultaneous live streams.
	ConcurrencyCap int `mapstructure:"concurrency_cap"`
	// TokenBudget is the default per-stream token budget.
	TokenBudget int `mapstructure:"token_budget"`
	// StreamTimeoutMs bounds a single live stream.
	StreamTimeoutMs int `mapstructure:"stream_timeout_ms"`
	// EvidenceConfidence is the confidence above which envelopes must carry
	// evidence references or be rejected.
	EvidenceConfidence float64 `mapstructure:"evidence_confidence"`
	// VoteMinConfidence is the floor for bridging an accepted reviewer
	// envelope into a council vote.
	VoteMinConfidence float64 `mapstructure:"vote_min_confidence"`
	// ShedOnHighPressure cancels non-critical in-flight streams before
	// admitting new ones under HIGH pressure.
	ShedOnHighPressure bool `mapstructure:"shed_on_high_pressure"`
}

// StreamTimeout returns the live-stream bound as a Duration.
func (c *SchedulerConfig) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutMs) * time.Millisecond
}

// SpecializationConfig tunes agent-task affinity learning.
type SpecializationConfig struct {
	// EMAWeight is the weight of the newest sample (old keeps 1-EMAWeight).
	EMAWeight float64 `mapstructure:"ema_weight"`
	// PromotionThreshold is the success rate that promotes a task type
	// into an agent's specialized set.
	PromotionThreshold float64 `mapstructure:"promotion_threshold"`
	// ComplexityPenalty scales priority for non-experts on HIGH tasks.
	ComplexityPenalty float64 `mapstructure:"complexity_penalty"`
	// ExpertiseBonus scales priority for profiled specialists.
	ExpertiseBonus float64 `mapstructure:"expertise_bonus"`
	// Seed maps agent names to task types they start out specialized in.
	Seed map[string][]string `mapstructure:"seed"`
}

// StabilityConfig tunes pressure classification.
type StabilityConfig struct {
	// MediumLoad and HighLoad are normalized load thresholds for the tiers.
	MediumLoad float64 `mapstructure:"medium_load"`
	HighLoad   float64 `mapstructure:"high_load"`
	// SampleIntervalMs is how often the pressure sampler is consulted.
	SampleIntervalMs int `mapstructure:"sample_interval_ms"`
}

// SampleInterval returns the pressure sampling cadence as a Duration.
func (c *StabilityConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMs) * time.Millisecond
}

// SessionConfig controls council-state persistence.
type SessionConfig struct {
	// Dir is the session directory; empty disables persistence.
	Dir string `mapstructure:"dir"`
	// Persist enables asynchronous council snapshots after each turn.
	Persist bool `mapstructure:"persist"`
	// Watch reloads persisted state when the file changes externally.
	Watch bool `mapstructure:"watch"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"`
}

// Default returns a Config with the tuned default values.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Backend:   "command",
			Command:   "claude",
			MaxTokens: 4096,
		},
		Turn: TurnConfig{
			MaxDepth:            15,
			GasLimit:            25,
			MaxErrorRun:         3,
			TextBufferBytes:     1 << 20,   // 1 MiB hard cap
			ToolStreamSoftBytes: 512 << 10, // 512 KiB soft cap
			ToolResultBytes:     1 << 20,
			ProactiveTimeoutMs:  1500,
			PacingDelayMs:       75,
			WatchdogSeconds:     120,
			AuditEnabled:        true,
		},
		Council: CouncilConfig{
			VoteWindow:          12,
			EntropyFriction:     50,
			EntropyFracture:     100,
			OverrideConfidence:  2.0,
			EuphoriaStreak:      7,
			FlowDecaySeconds:    90,
			FlowDecayStep:       5,
			PanicCooldownCycles: 3,
		},
		Founder: FounderConfig{
			Profile:        "balanced",
			ConfidenceCap:  3.0,
			RiskDampening:  0.6,
			MomentumBoost:  0.15,
			UncertaintyCap: 1.2,
		},
		Scheduler: SchedulerConfig{
			SpawnCapPerTurn:    3,
			ConcurrencyCap:     4,
			TokenBudget:        2000,
			StreamTimeoutMs:    8000,
			EvidenceConfidence: 2.0,
			VoteMinConfidence:  1.2,
			ShedOnHighPressure: true,
		},
		Specialization: SpecializationConfig{
			EMAWeight:          0.3,
			PromotionThreshold: 0.7,
			ComplexityPenalty:  0.75,
			ExpertiseBonus:     1.3,
			Seed:               map[string][]string{},
		},
		Stability: StabilityConfig{
			MediumLoad:       0.6,
			HighLoad:         0.85,
			SampleIntervalMs: 500,
		},
		Session: SessionConfig{
			Dir:     "",
			Persist: true,
			Watch:   false,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	d := Default()

	viper.SetDefault("provider.backend", d.Provider.Backend)
	viper.SetDefault("provider.command", d.Provider.Command)
	viper.SetDefault("provider.model", d.Provider.Model)
	viper.SetDefault("provider.max_tokens", d.Provider.MaxTokens)
	viper.SetDefault("provider.replay_file", d.Provider.ReplayFile)

	viper.SetDefault("turn.max_depth", d.Turn.MaxDepth)
	viper.SetDefault("turn.gas_limit", d.Turn.GasLimit)
	viper.SetDefault("turn.max_error_run", d.Turn.MaxErrorRun)
	viper.SetDefault("turn.text_buffer_bytes", d.Turn.TextBufferBytes)
	viper.SetDefault("turn.tool_stream_soft_bytes", d.Turn.ToolStreamSoftBytes)
	viper.SetDefault("turn.tool_result_bytes", d.Turn.ToolResultBytes)
	viper.SetDefault("turn.proactive_timeout_ms", d.Turn.ProactiveTimeoutMs)
	viper.SetDefault("turn.pacing_delay_ms", d.Turn.PacingDelayMs)
	viper.SetDefault("turn.watchdog_seconds", d.Turn.WatchdogSeconds)
	viper.SetDefault("turn.audit_enabled", d.Turn.AuditEnabled)

	viper.SetDefault("council.vote_window", d.Council.VoteWindow)
	viper.SetDefault("council.entropy_friction", d.Council.EntropyFriction)
	viper.SetDefault("council.entropy_fracture", d.Council.EntropyFracture)
	viper.SetDefault("council.override_confidence", d.Council.OverrideConfidence)
	viper.SetDefault("council.euphoria_streak", d.Council.EuphoriaStreak)
	viper.SetDefault("council.flow_decay_seconds", d.Council.FlowDecaySeconds)
	viper.SetDefault("council.flow_decay_step", d.Council.FlowDecayStep)
	viper.SetDefault("council.panic_cooldown_cycles", d.Council.PanicCooldownCycles)

	viper.SetDefault("founder.profile", d.Founder.Profile)
	viper.SetDefault("founder.confidence_cap", d.Founder.ConfidenceCap)
	viper.SetDefault("founder.risk_dampening", d.Founder.RiskDampening)
	viper.SetDefault("founder.momentum_boost", d.Founder.MomentumBoost)
	viper.SetDefault("founder.uncertainty_cap", d.Founder.UncertaintyCap)

	viper.SetDefault("scheduler.spawn_cap_per_turn", d.Scheduler.SpawnCapPerTurn)
	viper.SetDefault("scheduler.concurrency_cap", d.Scheduler.ConcurrencyCap)
	viper.SetDefault("scheduler.token_budget", d.Scheduler.TokenBudget)
	viper.SetDefault("scheduler.stream_timeout_ms", d.Scheduler.StreamTimeoutMs)
	viper.SetDefault("scheduler.evidence_confidence", d.Scheduler.EvidenceConfidence)
	viper.SetDefault("scheduler.vote_min_confidence", d.Scheduler.VoteMinConfidence)
	viper.SetDefault("scheduler.shed_on_high_pressure", d.Scheduler.ShedOnHighPressure)

	viper.SetDefault("specialization.ema_weight", d.Specialization.EMAWeight)
	viper.SetDefault("specialization.promotion_threshold", d.Specialization.PromotionThreshold)
	viper.SetDefault("specialization.complexity_penalty", d.Specialization.ComplexityPenalty)
	viper.SetDefault("specialization.expertise_bonus", d.Specialization.ExpertiseBonus)
	viper.SetDefault("specialization.seed", d.Specialization.Seed)

	viper.SetDefault("stability.medium_load", d.Stability.MediumLoad)
	viper.SetDefault("stability.high_load", d.Stability.HighLoad)
	viper.SetDefault("stability.sample_interval_ms", d.Stability.SampleIntervalMs)

	viper.SetDefault("session.dir", d.Session.Dir)
	viper.SetDefault("session.persist", d.Session.Persist)
	viper.SetDefault("session.watch", d.Session.Watch)

	viper.SetDefault("logging.enabled", d.Logging.Enabled)
	viper.SetDefault("logging.level", d.Logging.Level)
}

// Load reads the configuration from viper into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if
// unmarshaling fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conclave")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conclave"
	}
	return filepath.Join(home, ".config", "conclave")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
