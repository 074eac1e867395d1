package factory

import (
	"github.com/mikey/llm-phish-scanner/internal/adapters/dns"
	"github.com/mikey/llm-phish-scanner/internal/adapters/rdap"
	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/identity"
	"github.com/mikey/llm-phish-scanner/internal/intent"
	"github.com/mikey/llm-phish-scanner/internal/reputation"
	"github.com/mikey/llm-phish-scanner/internal/sanitize"
	"github.com/mikey/llm-phish-scanner/internal/scan"
	"github.com/mikey/llm-phish-scanner/internal/whitelist"
	"go.uber.org/zap"
)

// ScanFactory creates the three layers and the orchestrator that runs them
type ScanFactory struct {
	cfg    *config.Config
	logger *zap.Logger
	policy *core.Policy
}

// NewScanFactory creates a new scan factory; the policy is built once here
func NewScanFactory(cfg *config.Config, logger *zap.Logger) *ScanFactory {
	return &ScanFactory{
		cfg:    cfg,
		logger: logger,
		policy: cfg.GetPolicy(),
	}
}

// Policy returns the detection policy shared by every component
func (f *ScanFactory) Policy() *core.Policy {
	return f.policy
}

// CreateIdentityChecker creates the SPF/DKIM/DMARC checker backed by a DNS resolver
func (f *ScanFactory) CreateIdentityChecker() *identity.Checker {
	ic := f.cfg.GetIdentity()
	resolver := dns.NewResolver(ic.Nameservers, ic.Timeout, f.logger)
	return identity.NewChecker(resolver, ic.Timeout, ic.DKIMSelectors, f.logger)
}

// CreateReputationChecker creates the URL checker backed by RDAP age lookups
func (f *ScanFactory) CreateReputationChecker() (*reputation.Checker, error) {
	rc := f.cfg.GetReputation()
	ages, err := rdap.NewAgeLookup(rc.RDAPServer, rc.Timeout, f.logger)
	if err != nil {
		return nil, err
	}
	return reputation.NewChecker(
		ages,
		f.policy,
		whitelist.NewChecker(rc.TrustedDomains, f.logger),
		reputation.Options{
			LookupTimeout:  rc.Timeout,
			MaxConcurrency: rc.MaxConcurrency,
			MaxURLs:        rc.MaxURLs,
		},
		f.logger,
	), nil
}

// CreateIntentAnalyzer creates the LLM intent analyzer. A nil client degrades
// every analysis.
func (f *ScanFactory) CreateIntentAnalyzer(llm core.LLMClient) *intent.Analyzer {
	lc := f.cfg.GetLLM()
	return intent.NewAnalyzer(
		llm,
		sanitize.New(f.cfg.GetSanitizeMaxLength()),
		lc.Timeout,
		lc.MaxRetries,
		f.logger,
	)
}

// CreateOrchestrator wires the layers into the orchestrator
func (f *ScanFactory) CreateOrchestrator(
	identityChecker *identity.Checker,
	reputationChecker *reputation.Checker,
	analyzer *intent.Analyzer,
) *scan.Orchestrator {
	return scan.NewOrchestrator(
		scan.NewIdentityLayer(identityChecker),
		scan.NewReputationLayer(reputationChecker),
		scan.NewIntentLayer(analyzer),
		f.policy,
		f.logger,
	)
}

// CreateScanService wraps the orchestrator with the result cache. A nil cache
// disables caching.
func (f *ScanFactory) CreateScanService(orchestrator *scan.Orchestrator, cache core.CacheRepository) *core.ScanService {
	cc := f.cfg.GetCache()
	return core.NewScanService(orchestrator, cache, f.logger, cc.Enabled, cc.TTL, f.cfg.GetLayers())
}
