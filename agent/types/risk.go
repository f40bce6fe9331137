package types

type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskCaution   RiskLevel = "caution"
	RiskDangerous RiskLevel = "dangerous"
	RiskBlocked   RiskLevel = "blocked"
)

// Severity orders levels: blocked > dangerous > caution > safe. Unknown levels rank as caution.
func (l RiskLevel) Severity() int {
	switch l {
	case RiskSafe:
		return 0
	case RiskCaution:
		return 1
	case RiskDangerous:
		return 2
	case RiskBlocked:
		return 3
	default:
		return 1
	}
}

func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskSafe, RiskCaution, RiskDangerous, RiskBlocked:
		return RiskLevel(s), true
	}
	return "", false
}

type RiskAssessment struct {
	Level            RiskLevel `json:"level" yaml:"level"`
	Category         string    `json:"category" yaml:"category"`
	Reason           string    `json:"reason" yaml:"reason"`
	RequiresApproval bool      `json:"requires_approval" yaml:"requires_approval"`
	Warning          string    `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// NeedsApproval reports whether a human must approve before execution.
func (r RiskAssessment) NeedsApproval() bool {
	return r.Level == RiskDangerous || r.RequiresApproval
}

func (r RiskAssessment) Blocked() bool {
	return r.Level == RiskBlocked
}
