package core

import (
	"sort"
	"strings"
)

// Policy holds detection and scoring configuration.
// It is built once at startup and shared read-only by every component.
type Policy struct {
	suspiciousTLDs      map[string]struct{}
	keywords            []string
	protectedBrands     []string
	subdomainDepth      int
	newDomainDays       int
	suspiciousThreshold int
	phishingThreshold   int
}

// PolicyOptions are the raw values a Policy is built from
type PolicyOptions struct {
	SuspiciousTLDs      []string
	Keywords            []string
	ProtectedBrands     []string
	SubdomainDepth      int
	NewDomainDays       int
	SuspiciousThreshold int
	PhishingThreshold   int
}

// DefaultPolicyOptions returns the built-in detection lists and thresholds
func DefaultPolicyOptions() PolicyOptions {
	return PolicyOptions{
		SuspiciousTLDs: []string{".tk", ".ml", ".ga", ".cf", ".gq", ".xyz", ".top"},
		Keywords: []string{
			"verify", "account", "suspended", "urgent", "confirm",
			"update", "secure", "password", "invoice", "login",
		},
		ProtectedBrands: []string{
			"paypal.com", "microsoft.com", "apple.com", "google.com", "amazon.com",
			"netflix.com", "linkedin.com", "facebook.com", "dropbox.com", "docusign.com",
		},
		SubdomainDepth:      3,
		NewDomainDays:       30,
		SuspiciousThreshold: 40,
		PhishingThreshold:   70,
	}
}

// NewPolicy normalizes the options into an immutable Policy.
// Zero thresholds fall back to the defaults.
func NewPolicy(opts PolicyOptions) *Policy {
	defaults := DefaultPolicyOptions()

	p := &Policy{
		suspiciousTLDs:      make(map[string]struct{}, len(opts.SuspiciousTLDs)),
		keywords:            normalizeList(opts.Keywords),
		protectedBrands:     normalizeList(opts.ProtectedBrands),
		subdomainDepth:      opts.SubdomainDepth,
		newDomainDays:       opts.NewDomainDays,
		suspiciousThreshold: opts.SuspiciousThreshold,
		phishingThreshold:   opts.PhishingThreshold,
	}
	for _, tld := range normalizeList(opts.SuspiciousTLDs) {
		p.suspiciousTLDs["."+strings.TrimPrefix(tld, ".")] = struct{}{}
	}
	if p.subdomainDepth <= 0 {
		p.subdomainDepth = defaults.SubdomainDepth
	}
	if p.newDomainDays <= 0 {
		p.newDomainDays = defaults.NewDomainDays
	}
	if p.suspiciousThreshold <= 0 {
		p.suspiciousThreshold = defaults.SuspiciousThreshold
	}
	if p.phishingThreshold <= 0 {
		p.phishingThreshold = defaults.PhishingThreshold
	}
	return p
}

// DefaultPolicy returns a Policy built from DefaultPolicyOptions
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultPolicyOptions())
}

// SuspiciousTLD reports the matching suspicious TLD for a host, if any
func (p *Policy) SuspiciousTLD(host string) (string, bool) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	idx := strings.LastIndex(host, ".")
	if idx < 0 {
		return "", false
	}
	tld := host[idx:]
	_, ok := p.suspiciousTLDs[tld]
	return tld, ok
}

// SuspiciousTLDs returns the configured TLD set in sorted order
func (p *Policy) SuspiciousTLDs() []string {
	tlds := make([]string, 0, len(p.suspiciousTLDs))
	for tld := range p.suspiciousTLDs {
		tlds = append(tlds, tld)
	}
	sort.Strings(tlds)
	return tlds
}

// Keywords returns the phishing keyword list
func (p *Policy) Keywords() []string { return append([]string(nil), p.keywords...) }

// ProtectedBrands returns the registrable domains that look-alikes are compared against
func (p *Policy) ProtectedBrands() []string { return append([]string(nil), p.protectedBrands...) }

// SubdomainDepth is the number of labels below the registrable domain considered excessive
func (p *Policy) SubdomainDepth() int { return p.subdomainDepth }

// NewDomainDays is the age under which a domain counts as newly registered
func (p *Policy) NewDomainDays() int { return p.newDomainDays }

// Verdict maps an overall score onto a coarse label
func (p *Policy) Verdict(score int) Verdict {
	switch {
	case score >= p.phishingThreshold:
		return VerdictPhishing
	case score >= p.suspiciousThreshold:
		return VerdictSuspicious
	default:
		return VerdictSafe
	}
}

func normalizeList(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
