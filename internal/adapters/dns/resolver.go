package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// DefaultNameservers are queried in order when none are configured
var DefaultNameservers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// ErrNoNameservers is returned when a resolver has nothing to query
var ErrNoNameservers = errors.New("no nameservers configured")

// Resolver is an implementation of the DNSResolver interface using miekg/dns.
// Each nameserver is tried in turn until one answers authoritatively.
type Resolver struct {
	client      *dns.Client
	nameservers []string
	logger      *zap.Logger
}

// NewResolver creates a new resolver
func NewResolver(nameservers []string, timeout time.Duration, logger *zap.Logger) *Resolver {
	if len(nameservers) == 0 {
		nameservers = DefaultNameservers
	}
	normalized := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		if _, _, err := net.SplitHostPort(ns); err != nil {
			ns = net.JoinHostPort(ns, "53")
		}
		normalized = append(normalized, ns)
	}

	return &Resolver{
		client:      &dns.Client{Net: "udp", Timeout: timeout},
		nameservers: normalized,
		logger:      logger,
	}
}

// LookupTXT returns the TXT strings published at name.
// NXDOMAIN and empty answers are not errors.
func (r *Resolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if len(r.nameservers) == 0 {
		return nil, ErrNoNameservers
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.nameservers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err == nil && resp != nil && resp.Truncated {
			tcp := &dns.Client{Net: "tcp", Timeout: r.client.Timeout}
			resp, _, err = tcp.ExchangeContext(ctx, m, server)
		}
		if err != nil {
			lastErr = fmt.Errorf("query %s via %s: %w", name, server, err)
			r.logger.Debug("DNS query failed", zap.String("name", name), zap.String("server", server), zap.Error(err))
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			return txtStrings(resp), nil
		case dns.RcodeNameError:
			return nil, nil
		default:
			lastErr = fmt.Errorf("query %s via %s: %s", name, server, dns.RcodeToString[resp.Rcode])
		}
	}
	return nil, lastErr
}

// txtStrings joins the character-strings of each TXT record
func txtStrings(resp *dns.Msg) []string {
	var out []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out
}
