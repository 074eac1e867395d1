// Package identity verifies the sending domain of a message against its published
// SPF, DKIM and DMARC records.
//
// DKIM selectors cannot be enumerated through DNS. Without a selector taken from a
// signed message, a missing DKIM key proves nothing, so the checker reports the
// message as unverified with an explanatory reason and never as failed.
package identity

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultLookupTimeout bounds each individual DNS lookup
const DefaultLookupTimeout = 4 * time.Second

// DefaultSelectors are the common DKIM selectors probed when a message carries none
var DefaultSelectors = []string{"default", "google", "k1", "s1", "s2", "selector1", "selector2"}

// Checker resolves sender-domain authentication records
type Checker struct {
	resolver  core.DNSResolver
	timeout   time.Duration
	selectors []string
	logger    *zap.Logger
}

// NewChecker creates a new identity checker.
// A non-positive timeout selects DefaultLookupTimeout and an empty selector list
// selects DefaultSelectors.
func NewChecker(resolver core.DNSResolver, timeout time.Duration, selectors []string, logger *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}
	return &Checker{
		resolver:  resolver,
		timeout:   timeout,
		selectors: selectors,
		logger:    logger,
	}
}

// Timeout returns the per-lookup timeout
func (c *Checker) Timeout() time.Duration {
	return c.timeout
}

// Check verifies the domain using only the common selector list
func (c *Checker) Check(ctx context.Context, domain, sender string) core.IdentityResult {
	return c.CheckWithSelectors(ctx, domain, sender, nil)
}

// CheckMessage verifies the sender domain of a message, probing the selectors named
// in its DKIM-Signature headers before the common list
func (c *Checker) CheckMessage(ctx context.Context, msg *core.Message) core.IdentityResult {
	return c.CheckWithSelectors(ctx, msg.SenderDomain, msg.SenderAddress, msg.DKIMSelectors())
}

// CheckWithSelectors runs the three lookups concurrently.
// It never returns an error: lookup-level failures yield a failed result with every
// flag cleared.
func (c *Checker) CheckWithSelectors(ctx context.Context, domain, sender string, selectors []string) core.IdentityResult {
	domain = normalizeDomain(domain)
	if domain == "" {
		domain = DomainFromAddress(sender)
	}
	if domain == "" {
		return core.IdentityResult{
			Status: core.IdentityUnverified,
			Reason: "no sender domain available",
		}
	}

	var (
		spf   spfOutcome
		dkim  dkimOutcome
		dmarc dmarcOutcome
	)

	// lookups report errors through their outcomes so a failing one never cancels the others
	var g errgroup.Group
	g.Go(func() error {
		spf = c.checkSPF(ctx, domain)
		return nil
	})
	g.Go(func() error {
		dkim = c.checkDKIM(ctx, domain, mergeSelectors(selectors, c.selectors))
		return nil
	})
	g.Go(func() error {
		dmarc = c.checkDMARC(ctx, domain)
		return nil
	})
	_ = g.Wait()

	if err := firstError(spf.err, dmarc.err); err != nil {
		c.logger.Warn("Identity lookup failed",
			zap.String("layer", string(core.LayerIdentity)),
			zap.String("domain", domain),
			zap.Error(err))
		return core.IdentityResult{
			Status: core.IdentityFailed,
			Domain: domain,
			Reason: fmt.Sprintf("lookup failed: %v", err),
		}
	}

	result := core.IdentityResult{
		SPFPass:      spf.pass,
		DKIMPass:     dkim.pass,
		DMARCPass:    dmarc.pass,
		Domain:       domain,
		DMARCPolicy:  dmarc.policy,
		DKIMSelector: dkim.selector,
	}
	if result.SPFPass && result.DKIMPass && result.DMARCPass {
		result.Status = core.IdentityVerified
	} else {
		result.Status = core.IdentityUnverified
	}
	result.Reason = describe(spf, dkim, dmarc)

	c.logger.Debug("Identity check complete",
		zap.String("domain", domain),
		zap.String("status", string(result.Status)),
		zap.Bool("spf", result.SPFPass),
		zap.Bool("dkim", result.DKIMPass),
		zap.Bool("dmarc", result.DMARCPass))

	return result
}

type spfOutcome struct {
	pass   bool
	record string
	err    error
}

type dkimOutcome struct {
	pass     bool
	selector string
	probed   int
	errors   int
}

type dmarcOutcome struct {
	pass   bool
	policy string
	err    error
}

func (c *Checker) lookup(ctx context.Context, name string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.resolver.LookupTXT(ctx, name)
}

// checkSPF passes when exactly one v=spf1 record is published
func (c *Checker) checkSPF(ctx context.Context, domain string) spfOutcome {
	records, err := c.lookup(ctx, domain)
	if err != nil {
		return spfOutcome{err: fmt.Errorf("spf lookup for %s: %w", domain, err)}
	}

	var found []string
	for _, r := range records {
		if isSPFRecord(r) {
			found = append(found, r)
		}
	}
	if len(found) != 1 {
		return spfOutcome{record: strings.Join(found, " | ")}
	}
	return spfOutcome{pass: true, record: found[0]}
}

// checkDKIM probes every selector concurrently and reports the first one, in
// probe order, that publishes a key. Errors on individual selectors are tolerated.
func (c *Checker) checkDKIM(ctx context.Context, domain string, selectors []string) dkimOutcome {
	found := make([]bool, len(selectors))
	failed := make([]bool, len(selectors))

	var g errgroup.Group
	for i, selector := range selectors {
		g.Go(func() error {
			records, err := c.lookup(ctx, selector+"._domainkey."+domain)
			if err != nil {
				failed[i] = true
				return nil
			}
			for _, r := range records {
				if isDKIMKey(r) {
					found[i] = true
					break
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	out := dkimOutcome{probed: len(selectors)}
	for i, selector := range selectors {
		if failed[i] {
			out.errors++
		}
		if found[i] && !out.pass {
			out.pass = true
			out.selector = selector
		}
	}
	return out
}

// checkDMARC passes when a v=DMARC1 record is published at _dmarc.<domain>
func (c *Checker) checkDMARC(ctx context.Context, domain string) dmarcOutcome {
	records, err := c.lookup(ctx, "_dmarc."+domain)
	if err != nil {
		return dmarcOutcome{err: fmt.Errorf("dmarc lookup for %s: %w", domain, err)}
	}

	for _, r := range records {
		if policy, ok := parseDMARC(r); ok {
			return dmarcOutcome{pass: true, policy: policy}
		}
	}
	return dmarcOutcome{}
}

func isSPFRecord(record string) bool {
	record = strings.ToLower(strings.TrimSpace(record))
	return record == "v=spf1" || strings.HasPrefix(record, "v=spf1 ")
}

func isDKIMKey(record string) bool {
	tags := parseTags(record)
	if v, ok := tags["v"]; ok && !strings.EqualFold(v, "DKIM1") {
		return false
	}
	p, ok := tags["p"]
	// an empty p= tag means the key has been revoked
	return ok && p != ""
}

func parseDMARC(record string) (string, bool) {
	tags := parseTags(record)
	if !strings.EqualFold(tags["v"], "DMARC1") {
		return "", false
	}
	return strings.ToLower(tags["p"]), true
}

func parseTags(record string) map[string]string {
	tags := make(map[string]string)
	for _, part := range strings.Split(record, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		tags[strings.ToLower(strings.TrimSpace(name))] = strings.Join(strings.Fields(value), "")
	}
	return tags
}

func describe(spf spfOutcome, dkim dkimOutcome, dmarc dmarcOutcome) string {
	var parts []string

	switch {
	case spf.pass:
		parts = append(parts, "SPF record published")
	case spf.record != "":
		parts = append(parts, "multiple SPF records published")
	default:
		parts = append(parts, "no SPF record")
	}

	switch {
	case dkim.pass:
		parts = append(parts, fmt.Sprintf("DKIM key found for selector %q", dkim.selector))
	case dkim.errors > 0 && dkim.errors == dkim.probed:
		parts = append(parts, "DKIM selectors could not be resolved")
	default:
		parts = append(parts, "no DKIM key for any known selector (selectors are not discoverable without the signed message)")
	}

	if dmarc.pass {
		policy := dmarc.policy
		if policy == "" {
			policy = "unspecified"
		}
		parts = append(parts, fmt.Sprintf("DMARC policy %s", policy))
	} else {
		parts = append(parts, "no DMARC record")
	}

	return strings.Join(parts, "; ")
}

// DomainFromAddress extracts the lower-cased domain of an email address.
// Display-name forms such as "Name <user@example.com>" are accepted.
func DomainFromAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if parsed, err := mail.ParseAddress(address); err == nil {
		address = parsed.Address
	}
	idx := strings.LastIndex(address, "@")
	if idx < 0 {
		return ""
	}
	return normalizeDomain(address[idx+1:])
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.Trim(domain, "<>")
	return strings.TrimSuffix(domain, ".")
}

func mergeSelectors(first, rest []string) []string {
	seen := make(map[string]struct{}, len(first)+len(rest))
	out := make([]string, 0, len(first)+len(rest))
	for _, list := range [][]string{first, rest} {
		for _, s := range list {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
