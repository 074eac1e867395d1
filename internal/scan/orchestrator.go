// Package scan runs the evidence layers of a scan concurrently and combines their
// sub-scores into the overall phishing-risk score.
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/intent"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// budgetGrace lets a layer deliver its own timeout result before the orchestrator gives up on it
const budgetGrace = 250 * time.Millisecond

// Orchestrator is an implementation of the Scanner interface.
// Every enabled layer runs in its own goroutine; a layer that fails, panics or
// overruns its budget is replaced by its failure result without affecting the others.
type Orchestrator struct {
	identity   Layer
	reputation Layer
	intent     Layer
	policy     *core.Policy
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(identity, reputation, intent Layer, policy *core.Policy, logger *zap.Logger) *Orchestrator {
	if policy == nil {
		policy = core.DefaultPolicy()
	}
	return &Orchestrator{
		identity:   identity,
		reputation: reputation,
		intent:     intent,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Scan runs the enabled layers and aggregates their results.
// The only error is core.ErrNilMessage.
func (o *Orchestrator) Scan(ctx context.Context, msg *core.Message, layers core.LayerConfig) (*core.ScanResult, error) {
	if msg == nil {
		return nil, core.ErrNilMessage
	}

	start := o.now()

	var (
		identityRes   core.LayerResult
		reputationRes core.LayerResult
		intentRes     core.LayerResult
	)

	var g errgroup.Group
	g.Go(func() error {
		identityRes = o.runOrDisable(ctx, o.identity, layers.Identity, msg)
		return nil
	})
	g.Go(func() error {
		reputationRes = o.runOrDisable(ctx, o.reputation, layers.Reputation, msg)
		return nil
	})
	g.Go(func() error {
		intentRes = o.runOrDisable(ctx, o.intent, layers.Intent, msg)
		return nil
	})
	_ = g.Wait()

	result := &core.ScanResult{
		ID:         o.newID(),
		Identity:   asIdentity(identityRes),
		Reputation: asReputation(reputationRes),
		Intent:     asIntent(intentRes),
		ScannedAt:  o.now(),
	}
	result.SubScores = core.SubScores{
		Identity:   result.Identity.SubScore(),
		Reputation: result.Reputation.SubScore(),
		Intent:     result.Intent.SubScore(),
	}
	result.OverallScore = OverallScore(result.SubScores)
	result.Verdict = o.policy.Verdict(result.OverallScore)
	result.Duration = result.ScannedAt.Sub(start)

	o.logger.Info("Scan complete",
		zap.String("scan_id", result.ID),
		zap.String("message_id", msg.ID),
		zap.Int("overall_score", result.OverallScore),
		zap.String("verdict", string(result.Verdict)),
		zap.Int("identity", result.SubScores.Identity),
		zap.Int("reputation", result.SubScores.Reputation),
		zap.Int("intent", result.SubScores.Intent),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func (o *Orchestrator) runOrDisable(ctx context.Context, layer Layer, enabled bool, msg *core.Message) core.LayerResult {
	if layer == nil {
		return nil
	}
	if !enabled {
		return layer.Disabled()
	}
	return o.runLayer(ctx, layer, msg)
}

// runLayer runs one layer under its budget and recovers panics into its failure result
func (o *Orchestrator) runLayer(ctx context.Context, layer Layer, msg *core.Message) core.LayerResult {
	budget := layer.Budget() + budgetGrace
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan core.LayerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("Layer panicked",
					zap.String("layer", string(layer.Name())),
					zap.Any("panic", r))
				done <- layer.Failed(fmt.Errorf("panic: %v", r))
			}
		}()
		done <- layer.Run(ctx, msg)
	}()

	select {
	case res := <-done:
		if res == nil {
			return layer.Failed(fmt.Errorf("%s layer returned no result", layer.Name()))
		}
		return res
	case <-ctx.Done():
		o.logger.Warn("Layer did not finish within its budget",
			zap.String("layer", string(layer.Name())),
			zap.Duration("budget", budget))
		return layer.Failed(fmt.Errorf("%s layer exceeded its %s budget: %w", layer.Name(), budget, ctx.Err()))
	}
}

func asIdentity(res core.LayerResult) core.IdentityResult {
	if r, ok := res.(core.IdentityResult); ok {
		return r
	}
	return DisabledIdentity()
}

func asReputation(res core.LayerResult) core.ReputationResult {
	if r, ok := res.(core.ReputationResult); ok {
		return r
	}
	return DisabledReputation()
}

func asIntent(res core.LayerResult) core.IntentResult {
	if r, ok := res.(core.IntentResult); ok {
		return r
	}
	return intent.Disabled()
}
