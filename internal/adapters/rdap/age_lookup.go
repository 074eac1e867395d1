package rdap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openrdap/rdap"
	"go.uber.org/zap"
)

// registrationAction is the RDAP event action carrying the creation date
const registrationAction = "registration"

// AgeLookup is an implementation of the DomainAgeLookup interface using RDAP.
// Registry servers are located through the IANA bootstrap registry unless a
// fixed server is configured.
type AgeLookup struct {
	client *rdap.Client
	server *url.URL
	logger *zap.Logger
}

// NewAgeLookup creates a new RDAP age lookup.
// server may be empty to use bootstrap discovery.
func NewAgeLookup(server string, timeout time.Duration, logger *zap.Logger) (*AgeLookup, error) {
	a := &AgeLookup{
		client: &rdap.Client{
			HTTP:      &http.Client{Timeout: timeout},
			UserAgent: "llm-phish-scanner",
		},
		logger: logger,
	}

	if server != "" {
		u, err := url.Parse(server)
		if err != nil {
			return nil, fmt.Errorf("invalid rdap server %q: %w", server, err)
		}
		a.server = u
	}
	return a, nil
}

// CreationDate returns the registration date of domain.
// Domains unknown to the registry are reported as not found without an error.
func (a *AgeLookup) CreationDate(ctx context.Context, domain string) (time.Time, bool, error) {
	req := rdap.NewDomainRequest(domain).WithContext(ctx)
	if a.server != nil {
		req = req.WithServer(a.server)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		var ce *rdap.ClientError
		if errors.As(err, &ce) && ce.Type == rdap.ObjectDoesNotExist {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("rdap query for %s: %w", domain, err)
	}

	d, ok := resp.Object.(*rdap.Domain)
	if !ok {
		return time.Time{}, false, fmt.Errorf("rdap query for %s: unexpected object %T", domain, resp.Object)
	}

	created, found := RegistrationDate(d.Events)
	if !found {
		a.logger.Debug("No registration event in RDAP response", zap.String("domain", domain))
	}
	return created, found, nil
}

// RegistrationDate returns the earliest parseable registration event date
func RegistrationDate(events []rdap.Event) (time.Time, bool) {
	var earliest time.Time
	for _, e := range events {
		if !strings.EqualFold(e.Action, registrationAction) {
			continue
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Date))
		if err != nil {
			continue
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	return earliest, !earliest.IsZero()
}
