package relay

// PermissionProfile orders what a deployment lets the runtime do, from
// read-only up to fully trusted execution.
type PermissionProfile string

const (
	ProfileReadOnly                PermissionProfile = "read_only"
	ProfileAssistOnly              PermissionProfile = "assist_only"
	ProfileExecuteSafe             PermissionProfile = "execute_safe"
	ProfileExecuteWithConfirmation PermissionProfile = "execute_with_confirmation"
	ProfileFullTrusted             PermissionProfile = "full_trusted"
)

var profileOrder = map[PermissionProfile]int{
	ProfileReadOnly:                0,
	ProfileAssistOnly:              1,
	ProfileExecuteSafe:             2,
	ProfileExecuteWithConfirmation: 3,
	ProfileFullTrusted:             4,
}

// RiskDecision is the outcome of evaluating one tool action.
type RiskDecision struct {
	Allowed              bool
	RequiresConfirmation bool
	Reason               string
}

// PolicyEngine evaluates tool actions against the active permission profile
// and the runtime safe-mode flag. Evaluation is a pure function of its
// inputs.
type PolicyEngine struct {
	profile PermissionProfile
}

// NewPolicyEngine creates an engine with the given profile. An unknown
// profile falls back to execute_safe.
func NewPolicyEngine(profile PermissionProfile) *PolicyEngine {
	if _, ok := profileOrder[profile]; !ok {
		profile = ProfileExecuteSafe
	}
	return &PolicyEngine{profile: profile}
}

// Profile returns the active profile.
func (p *PolicyEngine) Profile() PermissionProfile { return p.profile }

// SetProfile switches the active profile.
func (p *PolicyEngine) SetProfile(profile PermissionProfile) {
	if _, ok := profileOrder[profile]; ok {
		p.profile = profile
	}
}

// EvaluateToolRisk maps (profile, risk, safe mode) to a decision.
func (p *PolicyEngine) EvaluateToolRisk(risk RiskLevel, safeMode bool) RiskDecision {
	switch p.profile {
	case ProfileReadOnly:
		return RiskDecision{false, false, "read_only_profile_blocks_tool_execution"}
	case ProfileAssistOnly:
		if risk == RiskLow {
			return RiskDecision{true, false, "assist_only_allows_low_risk"}
		}
		return RiskDecision{false, false, "assist_only_blocks_non_low_risk"}
	case ProfileExecuteSafe:
		switch risk {
		case RiskLow:
			return RiskDecision{true, false, "execute_safe_allows_low"}
		case RiskMedium:
			return RiskDecision{true, true, "execute_safe_requires_confirmation_for_medium"}
		}
		return RiskDecision{false, false, "execute_safe_blocks_high_critical"}
	case ProfileExecuteWithConfirmation:
		if risk == RiskCritical && safeMode {
			return RiskDecision{false, false, "safe_mode_blocks_critical"}
		}
		if risk == RiskMedium || risk == RiskHigh || risk == RiskCritical {
			return RiskDecision{true, true, "confirmation_required"}
		}
		return RiskDecision{true, false, "low_allowed"}
	}

	// full_trusted
	if safeMode && risk == RiskCritical {
		return RiskDecision{false, false, "safe_mode_blocks_critical"}
	}
	return RiskDecision{true, false, "full_trusted"}
}

// CanMutateAdminState reports whether the active profile may change
// administrative runtime state.
func (p *PolicyEngine) CanMutateAdminState() bool {
	return profileOrder[p.profile] >= profileOrder[ProfileExecuteWithConfirmation]
}
