package relay

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrHTTP is a transport-level failure from a provider backend.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ConfigError marks a configuration problem (bad budget, unregistered tool
// or provider). Fatal, surfaced immediately, never retried.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

// PermissionError marks a tool call blocked by the policy engine. Fatal for
// that call; reported as a distinct kind so callers can render "blocked"
// rather than "failed".
type PermissionError struct {
	Tool   string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission: %s blocked: %s", e.Tool, e.Reason)
}

// BudgetError marks a context still over budget after the trim loop. Raised
// as a distinct signal so the outer retry can react without conflating it
// with a backend outage.
type BudgetError struct {
	EstimatedTokens int
	MaxInputTokens  int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("over_budget: estimated %d tokens exceeds max %d", e.EstimatedTokens, e.MaxInputTokens)
}

// RetriesExhaustedError wraps the last cause after a retry loop gives up.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
	Info     ErrorInfo
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries_exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// --- Classification ---

// ErrorInfo is the normalized fingerprint of a failure. Classification is
// pure and deterministic for identical inputs; it is the basis of failure
// deduplication.
type ErrorInfo struct {
	Category         string
	Component        string
	ErrorType        string
	MessageSignature string
	Retryable        bool
	HTTPStatus       int // 0 when no embedded status was found
}

var (
	wsRun     = regexp.MustCompile(`\s+`)
	digitRun  = regexp.MustCompile(`\d+`)
	statusPat = regexp.MustCompile(`\b(4\d\d|5\d\d)\b`)

	nonRetryableMarkers = []string{"auth", "unauthorized", "forbidden", "invalidrequest", "badrequest", "permission"}
	retryableMarkers    = []string{"timeout", "temporar", "connection", "reset", "unavailable"}
)

// normalizeMessage lowercases, collapses whitespace, and masks digit runs so
// "port 51234" and "port 9921" fingerprint identically.
func normalizeMessage(msg string, maxLen int) string {
	s := strings.ToLower(msg)
	s = wsRun.ReplaceAllString(s, " ")
	s = digitRun.ReplaceAllString(s, "#")
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// errorTypeName returns a short type name for err, preferring the concrete
// typed errors over the generic wrapper.
func errorTypeName(err error) string {
	switch err.(type) {
	case *ErrHTTP:
		return "ErrHTTP"
	case *ConfigError:
		return "ConfigError"
	case *PermissionError:
		return "PermissionError"
	case *BudgetError:
		return "BudgetError"
	case *RetriesExhaustedError:
		return "RetriesExhaustedError"
	default:
		return "Error"
	}
}

// Classify normalizes err into an ErrorInfo for the given category and
// component. The message signature masks numbers; retryability follows the
// marker lists with an embedded 4xx status (outside 408/429) forcing
// non-retryable and a 5xx forcing retryable. The status is extracted from
// the raw message before digit masking.
func Classify(err error, category, component string) ErrorInfo {
	name := strings.ToLower(errorTypeName(err))
	raw := strings.ToLower(err.Error())
	normalized := normalizeMessage(err.Error(), 180)

	lowered := name + " " + normalized
	retryable := true
	for _, k := range nonRetryableMarkers {
		if strings.Contains(lowered, k) {
			retryable = false
			break
		}
	}
	for _, k := range retryableMarkers {
		if strings.Contains(lowered, k) {
			retryable = true
			break
		}
	}

	status := 0
	if m := statusPat.FindString(raw); m != "" {
		status, _ = strconv.Atoi(m)
		switch {
		case status >= 500, status == 408, status == 429:
			retryable = true
		case status >= 400:
			retryable = false
		}
	}

	return ErrorInfo{
		Category:         category,
		Component:        component,
		ErrorType:        errorTypeName(err),
		MessageSignature: normalized,
		Retryable:        retryable,
		HTTPStatus:       status,
	}
}

// CompactErrorSummary renders err as "<Type>: <lowered message>" for
// reflexion input. Digits are kept (the summary feeds keyword rules, not
// deduplication).
func CompactErrorSummary(err error) string {
	msg := strings.ToLower(err.Error())
	msg = wsRun.ReplaceAllString(msg, " ")
	msg = strings.TrimSpace(msg)
	if len(msg) > 220 {
		msg = msg[:220]
	}
	return errorTypeName(err) + ": " + msg
}
