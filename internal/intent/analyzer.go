// Package intent asks a language model to rate the social-engineering tactics of a
// message. Only sanitized text reaches the model, framed as delimited data under a
// fixed instruction, and the response is validated before it is trusted.
package intent

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/sanitize"
	"go.uber.org/zap"
)

// Defaults applied by NewAnalyzer
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 1
)

// ErrNoLLM is reported when the analyzer has no model client
var ErrNoLLM = errors.New("no language model configured")

// Analyzer runs the intent analysis protocol against an LLM
type Analyzer struct {
	llm        core.LLMClient
	sanitizer  *sanitize.Sanitizer
	logger     *zap.Logger
	timeout    time.Duration
	maxRetries int
	nonce      func() string
	// last holds the outcome of the most recent model request
	last       atomic.Pointer[llmOutcome]
}

type llmOutcome struct {
	err error
}

// pingTimeout bounds a health check of the model backend
const pingTimeout = 5 * time.Second

// NewAnalyzer creates a new intent analyzer.
// maxRetries is capped at one retry.
func NewAnalyzer(
	llm core.LLMClient,
	sanitizer *sanitize.Sanitizer,
	timeout time.Duration,
	maxRetries int,
	logger *zap.Logger,
) *Analyzer {
	if sanitizer == nil {
		sanitizer = sanitize.New(sanitize.DefaultMaxLength)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries > DefaultMaxRetries {
		maxRetries = DefaultMaxRetries
	}
	return &Analyzer{
		llm:        llm,
		sanitizer:  sanitizer,
		logger:     logger,
		timeout:    timeout,
		maxRetries: maxRetries,
		nonce:      uuid.NewString,
	}
}

// Budget is the longest an analysis can take including the retry
func (a *Analyzer) Budget() time.Duration {
	return time.Duration(a.maxRetries+1) * a.timeout
}

// LLMHealth reports whether the model backend is configured and reachable.
// Clients implementing core.LLMPinger are pinged; others are judged by their last request.
func (a *Analyzer) LLMHealth(ctx context.Context) core.LLMHealth {
	if a.llm == nil {
		return core.LLMHealth{Status: core.LLMUnconfigured, Error: ErrNoLLM.Error()}
	}

	var err error
	if pinger, ok := a.llm.(core.LLMPinger); ok {
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		err = pinger.Ping(ctx)
	} else if last := a.last.Load(); last != nil {
		err = last.err
	} else {
		return core.LLMHealth{Status: core.LLMUnknown}
	}

	if err != nil {
		return core.LLMHealth{Status: core.LLMUnreachable, Error: err.Error()}
	}
	return core.LLMHealth{Status: core.LLMReachable}
}

// AnalyzeMessage analyzes the subject, body and sender of a message
func (a *Analyzer) AnalyzeMessage(ctx context.Context, msg *core.Message) core.IntentResult {
	return a.Analyze(ctx, msg.Subject, msg.BodyText, msg.SenderAddress)
}

// Analyze never fails: infrastructure and data failures yield a zero score
// with a reason describing the degradation
func (a *Analyzer) Analyze(ctx context.Context, subject, body, sender string) (result core.IntentResult) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Intent analysis panicked", zap.Any("panic", r))
			result = Degraded(fmt.Errorf("internal error: %v", r))
		}
	}()

	cleanBody := a.sanitizer.Sanitize(body)
	cleanSubject := a.sanitizer.SanitizeWithLimit(subject, maxSubjectLength)
	cleanSender := a.sanitizer.SanitizeWithLimit(describeSender(sender), maxSenderLength)

	if cleanBody == "" && cleanSubject == "" {
		return core.IntentResult{
			Reason:  "no message content to analyze",
			Tactics: []string{},
		}
	}
	if a.llm == nil {
		return Degraded(ErrNoLLM)
	}

	nonce := a.nonce()
	system, user, err := buildPrompt(nonce, cleanSender, cleanSubject, cleanBody)
	if err != nil {
		return Degraded(err)
	}
	a.logger.Debug("Sending intent prompt",
		zap.String("nonce", nonce),
		zap.Int("body_length", len(cleanBody)))

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		v, model, err := a.attempt(ctx, system, user)
		if err == nil {
			return a.toResult(v, model)
		}
		lastErr = err
		a.logger.Warn("Intent analysis attempt failed",
			zap.String("layer", string(core.LayerIntent)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return Degraded(lastErr)
}

func (a *Analyzer) attempt(ctx context.Context, system, user string) (verdict, string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.llm.Complete(ctx, core.LLMRequest{System: system, User: user, JSONOutput: true})
	a.last.Store(&llmOutcome{err: err})
	if err != nil {
		return verdict{}, "", fmt.Errorf("llm request failed: %w", err)
	}
	if resp == nil {
		return verdict{}, "", fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	a.logger.Debug("Received intent response", zap.String("model", resp.Model), zap.String("response", resp.Text))

	v, err := parseVerdict(resp.Text)
	if err != nil {
		return verdict{}, "", err
	}
	return v, resp.Model, nil
}

func (a *Analyzer) toResult(v verdict, model string) core.IntentResult {
	result := core.IntentResult{
		Score:             v.Score(),
		Reason:            v.Reason,
		Tactics:           v.Tactics,
		Authority:         v.Authority,
		Urgency:           v.Urgency,
		FinancialPressure: v.FinancialPressure,
		Model:             model,
	}
	if result.Reason == "" {
		result.Reason = "model gave no reason"
	}
	if v.HasRiskScore {
		result.ModelRiskScore = v.RiskScore
		if diff := v.RiskScore - result.Score; diff > 40 || diff < -40 {
			a.logger.Debug("Model risk score disagrees with tactic ratings",
				zap.Int("model_risk_score", v.RiskScore),
				zap.Int("score", result.Score))
		}
	}
	return result
}

// Degraded is the safe default returned when analysis cannot complete
func Degraded(err error) core.IntentResult {
	reason := "intent analysis unavailable"
	if err != nil {
		reason = fmt.Sprintf("%s: %v", reason, err)
	}
	return core.IntentResult{
		Reason:   reason,
		Tactics:  []string{},
		Degraded: true,
	}
}

// Disabled is the neutral result used when the layer is switched off
func Disabled() core.IntentResult {
	return core.IntentResult{
		Reason:   "intent layer disabled",
		Tactics:  []string{},
		Disabled: true,
	}
}

// describeSender keeps the display name and domain of an address.
// The mailbox itself would be redacted as PII anyway.
func describeSender(sender string) string {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return ""
	}

	name, address := "", sender
	if parsed, err := mail.ParseAddress(sender); err == nil {
		name, address = parsed.Name, parsed.Address
	}
	idx := strings.LastIndex(address, "@")
	if idx < 0 {
		return sender
	}
	domain := strings.ToLower(address[idx+1:])
	if name == "" {
		return "domain " + domain
	}
	return fmt.Sprintf("%s (domain %s)", name, domain)
}
