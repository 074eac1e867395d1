package core

import (
	"strings"
	"time"
)

// LayerName identifies one of the evidence layers of a scan
type LayerName string

const (
	LayerIdentity   LayerName = "identity"
	LayerReputation LayerName = "reputation"
	LayerIntent     LayerName = "intent"
)

// Message represents a single email or chat message to be scanned.
// It is owned by the caller and must not be modified while a scan is running.
type Message struct {
	ID            string
	Subject       string
	SenderAddress string
	SenderDomain  string
	BodyText      string
	URLs          []string
	ObservedAt    time.Time
	Headers       map[string][]string
}

// DKIMSelectors returns the selectors named in the message's DKIM-Signature headers
func (m *Message) DKIMSelectors() []string {
	var selectors []string
	for key, values := range m.Headers {
		if !strings.EqualFold(key, "DKIM-Signature") {
			continue
		}
		for _, value := range values {
			for _, tag := range strings.Split(value, ";") {
				name, val, ok := strings.Cut(strings.TrimSpace(tag), "=")
				if ok && strings.TrimSpace(name) == "s" && strings.TrimSpace(val) != "" {
					selectors = append(selectors, strings.TrimSpace(val))
				}
			}
		}
	}
	return selectors
}

// LayerConfig enables or disables individual layers for one scan
type LayerConfig struct {
	Identity   bool `json:"identity"`
	Reputation bool `json:"reputation"`
	Intent     bool `json:"intent"`
}

// AllLayers returns a configuration with every layer enabled
func AllLayers() LayerConfig {
	return LayerConfig{Identity: true, Reputation: true, Intent: true}
}

// IdentityStatus is the outcome of sender authentication checks
type IdentityStatus string

const (
	IdentityVerified   IdentityStatus = "verified"
	IdentityUnverified IdentityStatus = "unverified"
	IdentityFailed     IdentityStatus = "failed"
)

// IdentityResult is the outcome of the SPF/DKIM/DMARC checks for a sender domain
type IdentityResult struct {
	Status       IdentityStatus `json:"status"`
	SPFPass      bool           `json:"spfPass"`
	DKIMPass     bool           `json:"dkimPass"`
	DMARCPass    bool           `json:"dmarcPass"`
	Domain       string         `json:"domain"`
	DMARCPolicy  string         `json:"dmarcPolicy,omitempty"`
	DKIMSelector string         `json:"dkimSelector,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Disabled     bool           `json:"disabled,omitempty"`
}

// Layer implements LayerResult
func (r IdentityResult) Layer() LayerName { return LayerIdentity }

// SubScore maps the authentication pattern onto a 0-100 risk contribution.
// Infrastructure failure is treated as the worst case.
func (r IdentityResult) SubScore() int {
	switch {
	case r.Disabled:
		return 0
	case r.Status == IdentityFailed:
		return 100
	case r.SPFPass && r.DKIMPass && r.DMARCPass:
		return 0
	case !r.SPFPass && !r.DKIMPass:
		return 100
	case r.SPFPass && r.DKIMPass && !r.DMARCPass:
		return 30
	default:
		return 50
	}
}

// Reputation is the severity of a URL or domain
type Reputation string

const (
	ReputationSafe       Reputation = "safe"
	ReputationSuspicious Reputation = "suspicious"
	ReputationDangerous  Reputation = "dangerous"
)

// Severity orders reputations: safe < suspicious < dangerous
func (r Reputation) Severity() int {
	switch r {
	case ReputationDangerous:
		return 2
	case ReputationSuspicious:
		return 1
	default:
		return 0
	}
}

// MaxReputation returns the more severe of two reputations
func MaxReputation(a, b Reputation) Reputation {
	if b.Severity() > a.Severity() {
		return b
	}
	if a == "" {
		return ReputationSafe
	}
	return a
}

// UnknownDomainAge marks a finding whose registration date could not be determined
const UnknownDomainAge = -1

// URLFinding is the reputation verdict for a single URL
type URLFinding struct {
	URL           string     `json:"url"`
	Domain        string     `json:"domain"`
	DomainAgeDays int        `json:"domainAgeDays"`
	Reputation    Reputation `json:"reputation"`
	Reason        string     `json:"reason,omitempty"`
}

// ReputationResult aggregates URL findings and sender-domain signals
type ReputationResult struct {
	Status         Reputation   `json:"status"`
	Findings       []URLFinding `json:"findings"`
	FlaggedDomains []string     `json:"flaggedDomains"`
	Keywords       []string     `json:"keywords,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	// Degraded is set when the layer failed as a whole
	Degraded       bool         `json:"degraded,omitempty"`
	Disabled       bool         `json:"disabled,omitempty"`
}

// Layer implements LayerResult
func (r ReputationResult) Layer() LayerName { return LayerReputation }

// SubScore maps the reputation status and number of flagged domains onto 0-100
func (r ReputationResult) SubScore() int {
	flagged := len(r.FlaggedDomains)
	switch {
	case r.Disabled:
		return 0
	case r.Status == ReputationDangerous || flagged > 2:
		return 100
	case r.Status == ReputationSuspicious || flagged > 0:
		return 70
	default:
		return 0
	}
}

// IntentResult is the validated outcome of the LLM intent analysis
type IntentResult struct {
	Score             int      `json:"score"`
	Reason            string   `json:"reason"`
	Tactics           []string `json:"tactics"`
	Authority         int      `json:"authority"`
	Urgency           int      `json:"urgency"`
	FinancialPressure int      `json:"financialPressure"`
	ModelRiskScore    int      `json:"modelRiskScore,omitempty"`
	Model             string   `json:"model,omitempty"`
	Degraded          bool     `json:"degraded,omitempty"`
	Disabled          bool     `json:"disabled,omitempty"`
}

// Layer implements LayerResult
func (r IntentResult) Layer() LayerName { return LayerIntent }

// SubScore is the analyzer's own aggregated score
func (r IntentResult) SubScore() int {
	if r.Disabled {
		return 0
	}
	return ClampScore(r.Score)
}

// LayerResult is the common shape every layer returns to the orchestrator
type LayerResult interface {
	Layer() LayerName
	SubScore() int
}

// SubScores records each layer's contribution to the overall score
type SubScores struct {
	Identity   int `json:"identity"`
	Reputation int `json:"reputation"`
	Intent     int `json:"intent"`
}

// Verdict is a coarse label derived from the overall score
type Verdict string

const (
	VerdictSafe       Verdict = "safe"
	VerdictSuspicious Verdict = "suspicious"
	VerdictPhishing   Verdict = "phishing"
)

// ScanResult is the final, immutable outcome of one scan
type ScanResult struct {
	ID           string           `json:"id"`
	OverallScore int              `json:"overallScore"`
	Verdict      Verdict          `json:"verdict"`
	SubScores    SubScores        `json:"subScores"`
	Identity     IdentityResult   `json:"identity"`
	Reputation   ReputationResult `json:"reputation"`
	Intent       IntentResult     `json:"intent"`
	ScannedAt    time.Time        `json:"scannedAt"`
	Duration     time.Duration    `json:"duration"`
}

// Degraded reports whether any layer fell back to its failure result,
// so the score reflects an outage rather than the message alone
func (r *ScanResult) Degraded() bool {
	return r.Intent.Degraded || r.Reputation.Degraded || r.Identity.Status == IdentityFailed
}

// LLMStatus is the state of the model backend behind the intent layer
type LLMStatus string

const (
	LLMUnconfigured LLMStatus = "unconfigured"
	LLMReachable    LLMStatus = "reachable"
	LLMUnreachable  LLMStatus = "unreachable"
	// LLMUnknown means the backend cannot be pinged and has not been used yet
	LLMUnknown      LLMStatus = "unknown"
)

// LLMHealth reports the model backend state
type LLMHealth struct {
	Status LLMStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// Available reports whether intent analysis can be expected to reach a model
func (h LLMHealth) Available() bool {
	return h.Status == LLMReachable || h.Status == LLMUnknown
}

// ClampScore bounds a score to [0,100]
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// CacheEntry is a cached scan result keyed by message fingerprint
type CacheEntry struct {
	Fingerprint string
	Result      *ScanResult
	LastSeen    time.Time
	ExpiresAt   time.Time
}
