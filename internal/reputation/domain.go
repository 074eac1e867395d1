package reputation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// maxLookalikeDistance is the largest edit distance at which a domain is
// considered an imitation of a protected brand
const maxLookalikeDistance = 2

var errNoHost = errors.New("no host")

// target is a parsed URL ready for classification
type target struct {
	raw    string
	scheme string
	host   string
	domain string
	path   string
	ip     bool
}

// hostSignals are the string-pattern signals of a host that need no network lookup
type hostSignals struct {
	suspiciousTLD string
	ip            bool
	deep          bool
	punycode      bool
	lookalike     string
	brandInSub    string
}

// any reports whether at least one pattern signal fired
func (s hostSignals) any() bool {
	return s.suspiciousTLD != "" || s.ip || s.deep || s.punycode || s.lookalike != "" || s.brandInSub != ""
}

func (s hostSignals) reasons() []string {
	var out []string
	if s.suspiciousTLD != "" {
		out = append(out, "suspicious TLD "+s.suspiciousTLD)
	}
	if s.ip {
		out = append(out, "IP address host")
	}
	if s.deep {
		out = append(out, "excessive subdomain depth")
	}
	if s.punycode {
		out = append(out, "punycode host")
	}
	if s.lookalike != "" {
		out = append(out, "look-alike of "+s.lookalike)
	}
	if s.brandInSub != "" {
		out = append(out, "brand "+s.brandInSub+" in subdomain")
	}
	return out
}

// parseTarget extracts the host and registrable domain of a URL.
// Scheme-less URLs are treated as http.
func parseTarget(raw string) (target, error) {
	raw = strings.TrimSpace(raw)
	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "http://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return target{raw: raw}, fmt.Errorf("parse %q: %w", raw, err)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return target{raw: raw, scheme: strings.ToLower(u.Scheme)}, errNoHost
	}

	t := target{
		raw:    raw,
		scheme: strings.ToLower(u.Scheme),
		host:   host,
		path:   strings.ToLower(u.EscapedPath() + "?" + u.RawQuery),
	}
	if net.ParseIP(host) != nil {
		t.ip = true
		t.domain = host
		return t, nil
	}
	t.domain = RegistrableDomain(host)
	return t, nil
}

// hasOpaqueScheme reports links such as mailto: that carry no host to evaluate
func hasOpaqueScheme(raw string) bool {
	lower := strings.ToLower(raw)
	for _, scheme := range []string{"mailto:", "tel:", "sms:"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// RegistrableDomain returns the effective TLD plus one label of host,
// or host itself when it has no registrable part
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// analyzeHost evaluates the pattern signals of a host against the policy
func analyzeHost(host, domain string, policy *core.Policy) hostSignals {
	var s hostSignals

	if net.ParseIP(host) != nil {
		s.ip = true
		return s
	}

	if tld, ok := policy.SuspiciousTLD(host); ok {
		s.suspiciousTLD = tld
	}

	sub := strings.TrimSuffix(strings.TrimSuffix(host, domain), ".")
	if sub != "" && len(strings.Split(sub, ".")) >= policy.SubdomainDepth() {
		s.deep = true
	}

	for _, label := range strings.Split(host, ".") {
		if strings.HasPrefix(label, "xn--") {
			s.punycode = true
			break
		}
	}
	if !s.punycode {
		// non-ASCII hosts that arrive already decoded
		if ascii, err := idna.ToASCII(host); err == nil && ascii != host {
			s.punycode = true
		}
	}

	s.lookalike = lookalikeOf(domain, policy.ProtectedBrands())
	if sub != "" {
		s.brandInSub = brandInSubdomain(sub, domain, policy.ProtectedBrands())
	}
	return s
}

// lookalikeOf returns the protected brand the domain imitates, if any.
// Punycode domains are compared in their Unicode form.
func lookalikeOf(domain string, brands []string) string {
	candidate := domain
	if decoded, err := idna.ToUnicode(domain); err == nil {
		candidate = decoded
	}
	for _, brand := range brands {
		if domain == brand || candidate == brand {
			continue
		}
		if fuzzy.LevenshteinDistance(candidate, brand) <= maxLookalikeDistance ||
			fuzzy.LevenshteinDistance(domain, brand) <= maxLookalikeDistance {
			return brand
		}
	}
	return ""
}

// brandInSubdomain finds a protected brand name used as a subdomain label of a foreign domain
func brandInSubdomain(sub, domain string, brands []string) string {
	labels := strings.Split(sub, ".")
	for _, brand := range brands {
		if domain == brand {
			continue
		}
		name, _, _ := strings.Cut(brand, ".")
		for _, label := range labels {
			if label == name {
				return brand
			}
		}
	}
	return ""
}
