package whitelist

import (
	"strings"

	"go.uber.org/zap"
)

// Checker decides whether a host belongs to a trusted domain.
// A trusted entry matches the domain itself and every subdomain of it.
type Checker struct {
	domains map[string]struct{}
	logger  *zap.Logger
}

// NewChecker creates a new trusted-domain checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	normalized := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		domain = strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
		if domain != "" {
			normalized[domain] = struct{}{}
		}
	}

	if len(normalized) > 0 && logger != nil {
		logger.Info("Initialized trusted domain list", zap.Int("domains", len(normalized)))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// Len returns the number of trusted domains
func (c *Checker) Len() int {
	if c == nil {
		return 0
	}
	return len(c.domains)
}

// IsTrustedDomain reports whether host or one of its parent domains is trusted
func (c *Checker) IsTrustedDomain(host string) bool {
	if c == nil || len(c.domains) == 0 {
		return false
	}

	host = strings.Trim(strings.ToLower(strings.TrimSpace(host)), ".")
	for host != "" {
		if _, ok := c.domains[host]; ok {
			if c.logger != nil {
				c.logger.Debug("Domain is trusted", zap.String("domain", host))
			}
			return true
		}
		idx := strings.Index(host, ".")
		if idx < 0 {
			break
		}
		host = host[idx+1:]
	}
	return false
}
