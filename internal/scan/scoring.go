package scan

import (
	"github.com/mikey/llm-phish-scanner/internal/core"
)

// Layer weights of the overall score, in percent
const (
	IdentityWeight   = 25
	ReputationWeight = 35
	IntentWeight     = 40
)

// OverallScore combines the layer sub-scores into a single 0-100 score:
// round(0.25*identity + 0.35*reputation + 0.40*intent), halves rounded up.
// Integer arithmetic keeps the rounding exact.
func OverallScore(s core.SubScores) int {
	weighted := core.ClampScore(s.Identity)*IdentityWeight +
		core.ClampScore(s.Reputation)*ReputationWeight +
		core.ClampScore(s.Intent)*IntentWeight
	return core.ClampScore((weighted + 50) / 100)
}
