package config

import (
	"time"

	"github.com/mikey/llm-phish-scanner/internal/core"
)

// LLMConfig represents the provider-independent LLM settings
type LLMConfig struct {
	Provider   string
	Timeout    time.Duration
	MaxRetries int
}

// OllamaConfig represents the configuration for a local Ollama server
type OllamaConfig struct {
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// OpenAIConfig represents the configuration for OpenAI or a compatible endpoint
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// VertexConfig represents the configuration for the unified genai SDK
type VertexConfig struct {
	APIKey      string
	Project     string
	Location    string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// IdentityConfig configures the SPF/DKIM/DMARC checker
type IdentityConfig struct {
	Nameservers   []string
	Timeout       time.Duration
	DKIMSelectors []string
}

// ReputationConfig configures the URL and domain checker
type ReputationConfig struct {
	RDAPServer     string
	Timeout        time.Duration
	MaxConcurrency int
	MaxURLs        int
	TrustedDomains []string
}

// CacheConfig configures the scan result cache
type CacheConfig struct {
	Enabled          bool
	Type             string
	TTL              time.Duration
	CleanupFrequency time.Duration
	SQLitePath       string
	MySQLDSN         string
	PostgresDSN      string
}

// ServerConfig configures the Postfix content filter
type ServerConfig struct {
	FilterType     string
	ListenAddress  string
	RejectPhishing bool
	ModifySubject  bool
	SubjectPrefix  string
	ScoreHeader    string
	VerdictHeader  string
	ReasonHeader   string
	PostfixEnabled bool
	PostfixAddress string
	PostfixPort    int
}

// HTTPConfig configures the REST frontend
type HTTPConfig struct {
	Enabled        bool
	ListenAddress  string
	AllowedOrigins []string
	BodyLimit      string
}

// AMQPConfig configures the queue worker
type AMQPConfig struct {
	Enabled           bool
	URL               string
	Exchange          string
	Queue             string
	RequestRoutingKey string
	ResultRoutingKey  string
	Workers           int
	Prefetch          int
}

func defaultPolicy() core.PolicyOptions {
	return core.DefaultPolicyOptions()
}

// durationOr parses a duration, falling back when unset or invalid
func (c *Config) durationOr(key string, fallback time.Duration) time.Duration {
	d, err := c.GetDuration(key)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider:   c.GetString("llm.provider"),
		Timeout:    c.durationOr("llm.timeout", 30*time.Second),
		MaxRetries: c.GetInt("llm.max_retries"),
	}
}

// GetOllama returns the Ollama configuration
func (c *Config) GetOllama() OllamaConfig {
	return OllamaConfig{
		BaseURL:     c.GetString("ollama.base_url"),
		ModelName:   c.GetString("ollama.model_name"),
		MaxTokens:   c.GetInt("ollama.max_tokens"),
		Temperature: float32(c.GetFloat64("ollama.temperature")),
		TopP:        float32(c.GetFloat64("ollama.top_p")),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
	}
}

// GetVertex returns the Vertex AI configuration
func (c *Config) GetVertex() VertexConfig {
	return VertexConfig{
		APIKey:      c.GetString("vertex.api_key"),
		Project:     c.GetString("vertex.project"),
		Location:    c.GetString("vertex.location"),
		ModelName:   c.GetString("vertex.model_name"),
		MaxTokens:   c.GetInt("vertex.max_tokens"),
		Temperature: float32(c.GetFloat64("vertex.temperature")),
		TopP:        float32(c.GetFloat64("vertex.top_p")),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
	}
}

// GetIdentity returns the identity checker configuration
func (c *Config) GetIdentity() IdentityConfig {
	return IdentityConfig{
		Nameservers:   c.GetStringSlice("identity.nameservers"),
		Timeout:       c.durationOr("identity.timeout", 4*time.Second),
		DKIMSelectors: c.GetStringSlice("identity.dkim_selectors"),
	}
}

// GetReputation returns the reputation checker configuration
func (c *Config) GetReputation() ReputationConfig {
	return ReputationConfig{
		RDAPServer:     c.GetString("reputation.rdap_server"),
		Timeout:        c.durationOr("reputation.timeout", 5*time.Second),
		MaxConcurrency: c.GetInt("reputation.max_concurrency"),
		MaxURLs:        c.GetInt("reputation.max_urls"),
		TrustedDomains: c.GetStringSlice("reputation.trusted_domains"),
	}
}

// GetSanitizeMaxLength returns the rune bound applied to sanitized text
func (c *Config) GetSanitizeMaxLength() int {
	return c.GetInt("sanitize.max_length")
}

// GetLayers returns which layers run by default
func (c *Config) GetLayers() core.LayerConfig {
	return core.LayerConfig{
		Identity:   c.GetBool("layers.identity"),
		Reputation: c.GetBool("layers.reputation"),
		Intent:     c.GetBool("layers.intent"),
	}
}

// GetPolicy builds the immutable detection policy
func (c *Config) GetPolicy() *core.Policy {
	return core.NewPolicy(core.PolicyOptions{
		SuspiciousTLDs:      c.GetStringSlice("policy.suspicious_tlds"),
		Keywords:            c.GetStringSlice("policy.keywords"),
		ProtectedBrands:     c.GetStringSlice("policy.protected_brands"),
		SubdomainDepth:      c.GetInt("policy.subdomain_depth"),
		NewDomainDays:       c.GetInt("policy.new_domain_days"),
		SuspiciousThreshold: c.GetInt("policy.suspicious_threshold"),
		PhishingThreshold:   c.GetInt("policy.phishing_threshold"),
	})
}

// GetCache returns the cache configuration
func (c *Config) GetCache() CacheConfig {
	return CacheConfig{
		Enabled:          c.GetBool("cache.enabled"),
		Type:             c.GetString("cache.type"),
		TTL:              c.durationOr("cache.ttl", 24*time.Hour),
		CleanupFrequency: c.durationOr("cache.cleanup_frequency", time.Hour),
		SQLitePath:       c.GetString("cache.sqlite_path"),
		MySQLDSN:         c.GetString("cache.mysql_dsn"),
		PostgresDSN:      c.GetString("cache.postgres_dsn"),
	}
}

// GetServer returns the Postfix content filter configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		FilterType:     c.GetString("server.filter_type"),
		ListenAddress:  c.GetString("server.listen_address"),
		RejectPhishing: c.GetBool("server.reject_phishing"),
		ModifySubject:  c.GetBool("server.modify_subject"),
		SubjectPrefix:  c.GetString("server.subject_prefix"),
		ScoreHeader:    c.GetString("server.headers.score"),
		VerdictHeader:  c.GetString("server.headers.verdict"),
		ReasonHeader:   c.GetString("server.headers.reason"),
		PostfixEnabled: c.GetBool("server.postfix.enabled"),
		PostfixAddress: c.GetString("server.postfix.address"),
		PostfixPort:    c.GetInt("server.postfix.port"),
	}
}

// GetHTTP returns the HTTP frontend configuration
func (c *Config) GetHTTP() HTTPConfig {
	return HTTPConfig{
		Enabled:        c.GetBool("http.enabled"),
		ListenAddress:  c.GetString("http.listen_address"),
		AllowedOrigins: c.GetStringSlice("http.allowed_origins"),
		BodyLimit:      c.GetString("http.body_limit"),
	}
}

// GetAMQP returns the queue worker configuration
func (c *Config) GetAMQP() AMQPConfig {
	return AMQPConfig{
		Enabled:           c.GetBool("amqp.enabled"),
		URL:               c.GetString("amqp.url"),
		Exchange:          c.GetString("amqp.exchange"),
		Queue:             c.GetString("amqp.queue"),
		RequestRoutingKey: c.GetString("amqp.request_routing_key"),
		ResultRoutingKey:  c.GetString("amqp.result_routing_key"),
		Workers:           c.GetInt("amqp.workers"),
		Prefetch:          c.GetInt("amqp.prefetch"),
	}
}
