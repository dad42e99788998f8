package relay

import "strings"

// Recovery strategies chosen by the reflexion decider.
const (
	StrategySwitchProvider = "switch_provider"
	StrategyReduceContext  = "reduce_context"
	StrategyRetrySame      = "retry_same"
	StrategySkipTool       = "skip_tool"
	StrategyAbort          = "abort"
)

// ReflexionDecision is a bounded recovery choice computed from the latest
// failure summary and environment flags. Ephemeral.
type ReflexionDecision struct {
	Strategy   string
	Reason     string
	Confidence float64
	Patch      map[string]bool
}

// ShouldTriggerReflexion gates recovery: never for non-retryable failures,
// never past the per-step cap, and safe mode permits at most one attempt.
func ShouldTriggerReflexion(retryable bool, attemptsUsed, maxPerStep int, safeMode bool) bool {
	if !retryable {
		return false
	}
	if attemptsUsed >= maxPerStep {
		return false
	}
	if safeMode && attemptsUsed >= 1 {
		return false
	}
	return true
}

// ReflexionLiteDecide picks a recovery strategy from the error summary.
// The rule order is deterministic: timeout-with-fallback beats budget
// reduction beats safe-mode tool skipping beats a plain retry.
func ReflexionLiteDecide(errorSummary string, hasFallbackProvider, safeMode bool) ReflexionDecision {
	s := strings.ToLower(errorSummary)
	if strings.Contains(s, "timeout") && hasFallbackProvider && !safeMode {
		return ReflexionDecision{
			Strategy:   StrategySwitchProvider,
			Reason:     "timeout-like failure with fallback available",
			Confidence: 0.7,
			Patch:      map[string]bool{"use_fallback": true},
		}
	}
	if strings.Contains(s, "over_budget") || strings.Contains(s, "token") {
		return ReflexionDecision{
			Strategy:   StrategyReduceContext,
			Reason:     "context appears too large",
			Confidence: 0.8,
			Patch:      map[string]bool{"reduce_recent_turns": true, "reduce_memory_snippets": true},
		}
	}
	if strings.Contains(s, "tool") && safeMode {
		return ReflexionDecision{
			Strategy:   StrategySkipTool,
			Reason:     "safe mode prefers conservative fallback",
			Confidence: 0.6,
			Patch:      map[string]bool{"skip_optional_tools": true},
		}
	}
	return ReflexionDecision{
		Strategy:   StrategyRetrySame,
		Reason:     "transient failure candidate",
		Confidence: 0.5,
		Patch:      map[string]bool{"retry": true},
	}
}
