// Package reputation classifies the URLs of a message by domain age and by
// patterns in their host names.
package reputation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/whitelist"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults applied by NewChecker to zero-valued options
const (
	DefaultLookupTimeout  = 5 * time.Second
	DefaultMaxConcurrency = 8
	DefaultMaxURLs        = 50
)

// ReasonLookupFailed is the finding reason when a domain-age lookup errors
const ReasonLookupFailed = "lookup failed"

// Options bound the work done for a single message
type Options struct {
	LookupTimeout  time.Duration
	MaxConcurrency int
	MaxURLs        int
}

// Checker evaluates URL and sender-domain reputation
type Checker struct {
	ages    core.DomainAgeLookup
	policy  *core.Policy
	trusted *whitelist.Checker
	logger  *zap.Logger
	opts    Options
	now     func() time.Time
}

// NewChecker creates a new reputation checker
func NewChecker(
	ages core.DomainAgeLookup,
	policy *core.Policy,
	trusted *whitelist.Checker,
	opts Options,
	logger *zap.Logger,
) *Checker {
	if policy == nil {
		policy = core.DefaultPolicy()
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.MaxURLs <= 0 {
		opts.MaxURLs = DefaultMaxURLs
	}
	return &Checker{
		ages:    ages,
		policy:  policy,
		trusted: trusted,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

// Timeout returns the per-lookup timeout
func (c *Checker) Timeout() time.Duration {
	return c.opts.LookupTimeout
}

// Budget bounds a whole check of a message carrying MaxURLs distinct domains
func (c *Checker) Budget() time.Duration {
	return c.deadline(c.opts.MaxURLs) + c.opts.LookupTimeout
}

// deadline allows one lookup timeout per wave of MaxConcurrency lookups
func (c *Checker) deadline(domains int) time.Duration {
	domains = min(domains, c.opts.MaxURLs)
	waves := (domains + c.opts.MaxConcurrency - 1) / c.opts.MaxConcurrency
	return time.Duration(max(waves, 1)) * c.opts.LookupTimeout
}

// Check classifies urls and the sender domain
func (c *Checker) Check(ctx context.Context, urls []string, senderDomain string) core.ReputationResult {
	return c.check(ctx, urls, senderDomain, "")
}

// CheckMessage classifies the URLs and sender domain of a message and records
// phishing keywords found in its subject and body
func (c *Checker) CheckMessage(ctx context.Context, msg *core.Message) core.ReputationResult {
	return c.check(ctx, msg.URLs, msg.SenderDomain, msg.Subject+"\n"+msg.BodyText)
}

type ageOutcome struct {
	days int
	err  error
}

func (c *Checker) check(ctx context.Context, urls []string, senderDomain, text string) core.ReputationResult {
	urls = dedupe(urls)
	if len(urls) > c.opts.MaxURLs {
		c.logger.Warn("Message carries too many URLs, evaluating the first ones only",
			zap.Int("urls", len(urls)),
			zap.Int("max_urls", c.opts.MaxURLs))
		urls = urls[:c.opts.MaxURLs]
	}

	keywords := c.matchKeywords(text)

	if len(urls) == 0 {
		return core.ReputationResult{
			Status:         core.ReputationSafe,
			Findings:       []core.URLFinding{},
			FlaggedDomains: []string{},
			Keywords:       keywords,
			Reason:         "no URLs in message",
		}
	}

	targets := make([]target, len(urls))
	parseErrs := make([]error, len(urls))
	var domains []string
	seen := make(map[string]struct{})
	for i, raw := range urls {
		targets[i], parseErrs[i] = parseTarget(raw)
		t := targets[i]
		if parseErrs[i] != nil || t.ip || c.trusted.IsTrustedDomain(t.host) {
			continue
		}
		if _, ok := seen[t.domain]; !ok {
			seen[t.domain] = struct{}{}
			domains = append(domains, t.domain)
		}
		for _, kw := range c.policy.Keywords() {
			if strings.Contains(t.path, kw) {
				keywords = appendUnique(keywords, kw)
			}
		}
	}

	ages := c.lookupAges(ctx, domains)

	findings := make([]core.URLFinding, 0, len(targets))
	status := core.ReputationSafe
	flagged := make(map[string]struct{})
	for i, t := range targets {
		var finding core.URLFinding
		if parseErrs[i] != nil {
			finding = core.URLFinding{
				URL:           t.raw,
				DomainAgeDays: core.UnknownDomainAge,
				Reputation:    core.ReputationSuspicious,
				Reason:        "unparseable URL",
			}
		} else {
			age, ok := ages[t.domain]
			if !ok {
				age = ageOutcome{days: core.UnknownDomainAge}
			}
			finding = c.classify(t, age)
		}
		findings = append(findings, finding)
		status = core.MaxReputation(status, finding.Reputation)
		if finding.Reputation != core.ReputationSafe && finding.Domain != "" {
			flagged[finding.Domain] = struct{}{}
		}
	}

	reasons := []string{fmt.Sprintf("%d of %d URLs flagged", countFlagged(findings), len(findings))}
	if sender := c.senderSignals(senderDomain); sender != "" {
		status = core.MaxReputation(status, core.ReputationSuspicious)
		flagged[RegistrableDomain(senderDomain)] = struct{}{}
		reasons = append(reasons, sender)
	}

	result := core.ReputationResult{
		Status:         status,
		Findings:       findings,
		FlaggedDomains: sortedKeys(flagged),
		Keywords:       keywords,
		Reason:         strings.Join(reasons, "; "),
	}

	c.logger.Debug("Reputation check complete",
		zap.String("status", string(result.Status)),
		zap.Int("urls", len(findings)),
		zap.Strings("flagged", result.FlaggedDomains))

	return result
}

// lookupAges resolves registration ages with bounded concurrency.
// A failed lookup is recorded against its domain and never cancels the others.
// Lookups still pending at the check deadline are recorded as failed.
func (c *Checker) lookupAges(ctx context.Context, domains []string) map[string]ageOutcome {
	out := make(map[string]ageOutcome, len(domains))
	if len(domains) == 0 {
		return out
	}
	if c.ages == nil {
		for _, d := range domains {
			out[d] = ageOutcome{days: core.UnknownDomainAge}
		}
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, c.deadline(len(domains)))
	defer cancel()

	var (
		mu       sync.Mutex
		resolved = make(map[string]ageOutcome, len(domains))
		finished = make(chan struct{})
	)
	go func() {
		defer close(finished)
		var g errgroup.Group
		g.SetLimit(c.opts.MaxConcurrency)
		for _, domain := range domains {
			g.Go(func() error {
				outcome := ageOutcome{days: core.UnknownDomainAge, err: ctx.Err()}
				if outcome.err == nil {
					outcome = c.lookupAge(ctx, domain)
				}
				mu.Lock()
				resolved[domain] = outcome
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		c.logger.Warn("Domain age lookups did not finish before the check deadline",
			zap.String("layer", string(core.LayerReputation)),
			zap.Int("domains", len(domains)),
			zap.Error(ctx.Err()))
	}

	mu.Lock()
	defer mu.Unlock()
	for _, d := range domains {
		outcome, ok := resolved[d]
		if !ok {
			outcome = ageOutcome{days: core.UnknownDomainAge, err: fmt.Errorf("lookup pending at check deadline: %w", context.DeadlineExceeded)}
		}
		out[d] = outcome
	}
	return out
}

func (c *Checker) lookupAge(ctx context.Context, domain string) ageOutcome {
	ctx, cancel := context.WithTimeout(ctx, c.opts.LookupTimeout)
	defer cancel()

	created, found, err := c.ages.CreationDate(ctx, domain)
	if err != nil {
		c.logger.Warn("Domain age lookup failed",
			zap.String("layer", string(core.LayerReputation)),
			zap.String("domain", domain),
			zap.Error(err))
		return ageOutcome{days: core.UnknownDomainAge, err: err}
	}
	if !found || created.IsZero() {
		return ageOutcome{days: core.UnknownDomainAge}
	}

	days := int(c.now().Sub(created).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return ageOutcome{days: days}
}

// classify combines the age and pattern signals of one URL
func (c *Checker) classify(t target, age ageOutcome) core.URLFinding {
	finding := core.URLFinding{
		URL:           t.raw,
		Domain:        t.domain,
		DomainAgeDays: core.UnknownDomainAge,
		Reputation:    core.ReputationSafe,
	}

	if !t.ip && c.trusted.IsTrustedDomain(t.host) {
		finding.Reason = "trusted domain"
		return finding
	}

	signals := analyzeHost(t.host, t.domain, c.policy)
	reasons := signals.reasons()

	if age.err != nil {
		finding.Reputation = core.ReputationSuspicious
		finding.Reason = strings.Join(append([]string{ReasonLookupFailed}, reasons...), "; ")
		return finding
	}

	finding.DomainAgeDays = age.days
	isNew := age.days >= 0 && age.days < c.policy.NewDomainDays()
	if isNew {
		reasons = append([]string{fmt.Sprintf("domain registered %d days ago", age.days)}, reasons...)
	}

	switch {
	case isNew && (signals.suspiciousTLD != "" || signals.ip):
		finding.Reputation = core.ReputationDangerous
	case isNew || signals.any():
		finding.Reputation = core.ReputationSuspicious
	}
	finding.Reason = strings.Join(reasons, "; ")
	return finding
}

// senderSignals returns a description of the pattern signals of the sender domain
func (c *Checker) senderSignals(senderDomain string) string {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(senderDomain)), ".")
	if host == "" || c.trusted.IsTrustedDomain(host) {
		return ""
	}
	signals := analyzeHost(host, RegistrableDomain(host), c.policy)
	if !signals.any() {
		return ""
	}
	return "sender domain: " + strings.Join(signals.reasons(), ", ")
}

// matchKeywords returns the policy keywords present in text, in policy order
func (c *Checker) matchKeywords(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var out []string
	for _, kw := range c.policy.Keywords() {
		if strings.Contains(lower, kw) {
			out = append(out, kw)
		}
	}
	return out
}

func countFlagged(findings []core.URLFinding) int {
	n := 0
	for _, f := range findings {
		if f.Reputation != core.ReputationSafe {
			n++
		}
	}
	return n
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || hasOpaqueScheme(u) {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
