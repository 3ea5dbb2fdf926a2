package errors

import (
	"fmt"
	"testing"
)

func TestTurnErrorFormatting(t *testing.T) {
	err := NewTurnError("recursion limit", ErrMaxDepthExceeded).WithDepth(16)

	want := "turn error [depth=16]: recursion limit: maximum turn depth exceeded"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !Is(err, ErrMaxDepthExceeded) {
		t.Error("Is(err, ErrMaxDepthExceeded) = false, want true")
	}
}

func TestToolErrorContext(t *testing.T) {
	cause := New("permission denied")
	err := NewToolError("write failed", cause).
		WithTool("edit_file").
		WithCallID("tc-3").
		WithTarget("pkg/a.go")

	got := err.Error()
	want := "tool error [tool=edit_file, call=tc-3, target=pkg/a.go]: write failed: permission denied"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !IsRetryable(err) {
		t.Error("tool errors should default to retryable")
	}
	if !IsUserFacing(err) {
		t.Error("tool errors should default to user-facing")
	}
}

func TestToolErrorWrapping(t *testing.T) {
	err := NewToolError("lookup", ErrToolNotFound)
	wrapped := fmt.Errorf("dispatch: %w", err)

	var te *ToolError
	if !As(wrapped, &te) {
		t.Fatal("As failed to find ToolError through wrapping")
	}
	if !Is(wrapped, ErrToolNotFound) {
		t.Error("Is failed to find sentinel through wrapping")
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		fatal      bool
		exhaustion bool
		retryable  bool
	}{
		{
			name:  "disposed is fatal",
			err:   NewTurnError("disposed", ErrOrchestratorDisposed),
			fatal: true,
		},
		{
			name:  "max depth is fatal",
			err:   fmt.Errorf("pass: %w", ErrMaxDepthExceeded),
			fatal: true,
		},
		{
			name:       "gas limit is exhaustion",
			err:        NewExhaustionError("gas", 25, ErrGasExhausted),
			exhaustion: true,
		},
		{
			name:       "buffer cap is exhaustion",
			err:        fmt.Errorf("text: %w", ErrBufferExceeded),
			exhaustion: true,
		},
		{
			name:      "tool failure is retryable",
			err:       NewToolError("flaky", ErrTimeout),
			retryable: true,
		},
		{
			name:      "agent failure is retryable and contained",
			err:       NewAgentError("advise", ErrAgentUnavailable).WithAgent("auditor"),
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
			if got := IsExhaustion(tt.err); got != tt.exhaustion {
				t.Errorf("IsExhaustion() = %v, want %v", got, tt.exhaustion)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestSeverityOf(t *testing.T) {
	if s := SeverityOf(NewTurnError("x", nil)); s != SeverityCritical {
		t.Errorf("turn error severity = %v, want critical", s)
	}
	if s := SeverityOf(NewToolError("x", nil)); s != SeverityWarning {
		t.Errorf("tool error severity = %v, want warning", s)
	}
	if s := SeverityOf(New("plain")); s != SeverityError {
		t.Errorf("plain error severity = %v, want error", s)
	}
}

func TestSeverityString(t *testing.T) {
	pairs := map[Severity]string{
		SeverityDebug:    "debug",
		SeverityInfo:     "info",
		SeverityWarning:  "warning",
		SeverityError:    "error",
		SeverityCritical: "critical",
		Severity(99):     "unknown",
	}
	for sev, want := range pairs {
		if sev.String() != want {
			t.Errorf("Severity(%d).String() = %q, want %q", sev, sev.String(), want)
		}
	}
}
