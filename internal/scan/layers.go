package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/identity"
	"github.com/mikey/llm-phish-scanner/internal/intent"
	"github.com/mikey/llm-phish-scanner/internal/reputation"
)

// Layer is one independent evidence check run by the orchestrator
type Layer interface {
	// Name identifies the layer in logs and results
	Name() core.LayerName

	// Budget bounds the time the orchestrator waits for Run
	Budget() time.Duration

	// Run performs the check; it must convert its own failures into a result
	Run(ctx context.Context, msg *core.Message) core.LayerResult

	// Disabled is the neutral result used when the layer is switched off
	Disabled() core.LayerResult

	// Failed is the result used when Run panics or overruns its budget
	Failed(err error) core.LayerResult
}

// DisabledIdentity is the neutral identity result: sub-score 0
func DisabledIdentity() core.IdentityResult {
	return core.IdentityResult{
		Status:   core.IdentityUnverified,
		Reason:   "identity layer disabled",
		Disabled: true,
	}
}

// DisabledReputation is the neutral reputation result: status safe, sub-score 0
func DisabledReputation() core.ReputationResult {
	return core.ReputationResult{
		Status:         core.ReputationSafe,
		Findings:       []core.URLFinding{},
		FlaggedDomains: []string{},
		Reason:         "reputation layer disabled",
		Disabled:       true,
	}
}

// IdentityLayer adapts the identity checker to the Layer interface
type IdentityLayer struct {
	checker *identity.Checker
}

// NewIdentityLayer creates a new identity layer
func NewIdentityLayer(checker *identity.Checker) *IdentityLayer {
	return &IdentityLayer{checker: checker}
}

func (l *IdentityLayer) Name() core.LayerName { return core.LayerIdentity }

func (l *IdentityLayer) Budget() time.Duration { return 2 * l.checker.Timeout() }

func (l *IdentityLayer) Run(ctx context.Context, msg *core.Message) core.LayerResult {
	return l.checker.CheckMessage(ctx, msg)
}

func (l *IdentityLayer) Disabled() core.LayerResult { return DisabledIdentity() }

func (l *IdentityLayer) Failed(err error) core.LayerResult {
	return core.IdentityResult{
		Status: core.IdentityFailed,
		Reason: fmt.Sprintf("identity check failed: %v", err),
	}
}

// ReputationLayer adapts the reputation checker to the Layer interface
type ReputationLayer struct {
	checker *reputation.Checker
}

// NewReputationLayer creates a new reputation layer
func NewReputationLayer(checker *reputation.Checker) *ReputationLayer {
	return &ReputationLayer{checker: checker}
}

func (l *ReputationLayer) Name() core.LayerName { return core.LayerReputation }

func (l *ReputationLayer) Budget() time.Duration { return l.checker.Budget() }

func (l *ReputationLayer) Run(ctx context.Context, msg *core.Message) core.LayerResult {
	return l.checker.CheckMessage(ctx, msg)
}

func (l *ReputationLayer) Disabled() core.LayerResult { return DisabledReputation() }

func (l *ReputationLayer) Failed(err error) core.LayerResult {
	return core.ReputationResult{
		Status:         core.ReputationSuspicious,
		Findings:       []core.URLFinding{},
		FlaggedDomains: []string{},
		Reason:         fmt.Sprintf("reputation check failed: %v", err),
		Degraded:       true,
	}
}

// IntentLayer adapts the intent analyzer to the Layer interface
type IntentLayer struct {
	analyzer *intent.Analyzer
}

// NewIntentLayer creates a new intent layer
func NewIntentLayer(analyzer *intent.Analyzer) *IntentLayer {
	return &IntentLayer{analyzer: analyzer}
}

func (l *IntentLayer) Name() core.LayerName { return core.LayerIntent }

func (l *IntentLayer) Budget() time.Duration { return l.analyzer.Budget() }

func (l *IntentLayer) Run(ctx context.Context, msg *core.Message) core.LayerResult {
	return l.analyzer.AnalyzeMessage(ctx, msg)
}

func (l *IntentLayer) Disabled() core.LayerResult { return intent.Disabled() }

func (l *IntentLayer) Failed(err error) core.LayerResult { return intent.Degraded(err) }
