package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g. "turn.gas_limit")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidFounderProfiles returns the list of valid founder profiles.
func ValidFounderProfiles() []string {
	return []string{"balanced", "recovery", "demo"}
}

// ValidProviderBackends returns the list of built-in backend names.
func ValidProviderBackends() []string {
	return []string{"command", "replay"}
}

// Validate checks the Config for invalid values and returns all failures.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidProviderBackends(), c.Provider.Backend) {
		errs = append(errs, ValidationError{
			Field: "provider.backend", Value: c.Provider.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidProviderBackends(), ", ")),
		})
	}
	if c.Provider.MaxTokens < 1 {
		errs = append(errs, ValidationError{
			Field: "provider.max_tokens", Value: c.Provider.MaxTokens,
			Message: "must be at least 1",
		})
	}

	if c.Turn.MaxDepth < 1 {
		errs = append(errs, ValidationError{
			Field: "turn.max_depth", Value: c.Turn.MaxDepth,
			Message: "must be at least 1",
		})
	}
	if c.Turn.GasLimit < 1 {
		errs = append(errs, ValidationError{
			Field: "turn.gas_limit", Value: c.Turn.GasLimit,
			Message: "must be at least 1",
		})
	}
	if c.Turn.TextBufferBytes < 1024 {
		errs = append(errs, ValidationError{
			Field: "turn.text_buffer_bytes", Value: c.Turn.TextBufferBytes,
			Message: "must be at least 1024",
		})
	}
	if c.Turn.ToolStreamSoftBytes > c.Turn.ToolResultBytes {
		errs = append(errs, ValidationError{
			Field: "turn.tool_stream_soft_bytes", Value: c.Turn.ToolStreamSoftBytes,
			Message: "soft cap cannot exceed turn.tool_result_bytes",
		})
	}

	if c.Council.EntropyFriction < 0 {
		errs = append(errs, ValidationError{
			Field: "council.entropy_friction", Value: c.Council.EntropyFriction,
			Message: "must be non-negative",
		})
	}
	if c.Council.EntropyFracture <= c.Council.EntropyFriction {
		errs = append(errs, ValidationError{
			Field: "council.entropy_fracture", Value: c.Council.EntropyFracture,
			Message: "must exceed council.entropy_friction",
		})
	}
	if c.Council.VoteWindow < 1 {
		errs = append(errs, ValidationError{
			Field: "council.vote_window", Value: c.Council.VoteWindow,
			Message: "must be at least 1",
		})
	}

	if !slices.Contains(ValidFounderProfiles(), c.Founder.Profile) {
		errs = append(errs, ValidationError{
			Field: "founder.profile", Value: c.Founder.Profile,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidFounderProfiles(), ", ")),
		})
	}
	if c.Founder.ConfidenceCap <= 0 {
		errs = append(errs, ValidationError{
			Field: "founder.confidence_cap", Value: c.Founder.ConfidenceCap,
			Message: "must be positive",
		})
	}
	if c.Founder.RiskDampening <= 0 || c.Founder.RiskDampening > 1 {
		errs = append(errs, ValidationError{
			Field: "founder.risk_dampening", Value: c.Founder.RiskDampening,
			Message: "must be in (0, 1]",
		})
	}

	if c.Scheduler.SpawnCapPerTurn < 0 {
		errs = append(errs, ValidationError{
			Field: "scheduler.spawn_cap_per_turn", Value: c.Scheduler.SpawnCapPerTurn,
			Message: "must be non-negative",
		})
	}
	if c.Scheduler.ConcurrencyCap < 1 {
		errs = append(errs, ValidationError{
			Field: "scheduler.concurrency_cap", Value: c.Scheduler.ConcurrencyCap,
			Message: "must be at least 1",
		})
	}

	if c.Specialization.EMAWeight <= 0 || c.Specialization.EMAWeight >= 1 {
		errs = append(errs, ValidationError{
			Field: "specialization.ema_weight", Value: c.Specialization.EMAWeight,
			Message: "must be in (0, 1)",
		})
	}
	if c.Specialization.PromotionThreshold <= 0 || c.Specialization.PromotionThreshold > 1 {
		errs = append(errs, ValidationError{
			Field: "specialization.promotion_threshold", Value: c.Specialization.PromotionThreshold,
			Message: "must be in (0, 1]",
		})
	}

	if c.Stability.HighLoad <= c.Stability.MediumLoad {
		errs = append(errs, ValidationError{
			Field: "stability.high_load", Value: c.Stability.HighLoad,
			Message: "must exceed stability.medium_load",
		})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field: "logging.level", Value: c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errs
}
