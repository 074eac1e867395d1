package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	llm := cfg.GetLLM()
	assert.Equal(t, "ollama", llm.Provider)
	assert.Equal(t, 30*time.Second, llm.Timeout)
	assert.Equal(t, 1, llm.MaxRetries)

	assert.Equal(t, "http://localhost:11434/v1", cfg.GetOllama().BaseURL)
	assert.Equal(t, []string{"8.8.8.8:53", "1.1.1.1:53"}, cfg.GetIdentity().Nameservers)
	assert.Equal(t, 4*time.Second, cfg.GetIdentity().Timeout)

	rep := cfg.GetReputation()
	assert.Equal(t, 5*time.Second, rep.Timeout)
	assert.Equal(t, 8, rep.MaxConcurrency)
	assert.Equal(t, 50, rep.MaxURLs)

	assert.Equal(t, core.AllLayers(), cfg.GetLayers())
	assert.Equal(t, 4000, cfg.GetSanitizeMaxLength())
	assert.Equal(t, "message.analysis", cfg.GetAMQP().Queue)

	server := cfg.GetServer()
	assert.Equal(t, "postfix", server.FilterType)
	assert.Equal(t, "X-Phish-Verdict", server.VerdictHeader)
	assert.Equal(t, 10026, server.PostfixPort)
	assert.False(t, server.RejectPhishing)
}

func TestDefaultPolicyMatchesCore(t *testing.T) {
	policy := NewFromViper(NewEmptyViper()).GetPolicy()
	want := core.DefaultPolicy()

	assert.Equal(t, want.SuspiciousTLDs(), policy.SuspiciousTLDs())
	assert.Equal(t, want.Keywords(), policy.Keywords())
	assert.Equal(t, want.SubdomainDepth(), policy.SubdomainDepth())
	assert.Equal(t, core.VerdictPhishing, policy.Verdict(70))
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PHISH_SCANNER_LLM_PROVIDER", "bedrock")
	t.Setenv("PHISH_SCANNER_LLM_TIMEOUT", "5s")
	t.Setenv("PHISH_SCANNER_LAYERS_INTENT", "false")

	cfg := NewFromViper(NewEmptyViper())
	assert.Equal(t, "bedrock", cfg.GetLLM().Provider)
	assert.Equal(t, 5*time.Second, cfg.GetLLM().Timeout)
	assert.False(t, cfg.GetLayers().Intent)
}

func TestInvalidDurationFallsBack(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())
	cfg.Set("cache.ttl", "soon")

	_, err := cfg.GetDuration("cache.ttl")
	assert.Error(t, err)
	assert.Equal(t, 24*time.Hour, cfg.GetCache().TTL)
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: gemini
reputation:
  trusted_domains: [example.com, example.org]
policy:
  phishing_threshold: 80
`), 0o600))

	cfg, err := NewFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.GetLLM().Provider)
	assert.Equal(t, []string{"example.com", "example.org"}, cfg.GetReputation().TrustedDomains)
	assert.Equal(t, core.VerdictSuspicious, cfg.GetPolicy().Verdict(75))
	assert.Equal(t, "ollama", NewFromViper(NewEmptyViper()).GetLLM().Provider)
}
