package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockScanner struct {
	mock.Mock
}

func (m *mockScanner) Scan(ctx context.Context, msg *Message, layers LayerConfig) (*ScanResult, error) {
	args := m.Called(ctx, msg, layers)
	res, _ := args.Get(0).(*ScanResult)
	return res, args.Error(1)
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	setErr  error
}

func (c *mapCache) Get(_ context.Context, fingerprint string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fingerprint]; ok {
		return e, nil
	}
	return nil, errors.New("not found")
}

func (c *mapCache) Set(_ context.Context, entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	if c.entries == nil {
		c.entries = make(map[string]*CacheEntry)
	}
	c.entries[entry.Fingerprint] = entry
	return nil
}

func (c *mapCache) Delete(_ context.Context, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fingerprint)
	return nil
}

func (c *mapCache) Cleanup(context.Context) error { return nil }

func TestScanServiceCachesResults(t *testing.T) {
	scanner := new(mockScanner)
	cache := &mapCache{}
	svc := NewScanService(scanner, cache, zaptest.NewLogger(t), true, time.Hour, AllLayers())

	msg := &Message{Subject: "hi", SenderAddress: "a@example.com", BodyText: "body"}
	want := &ScanResult{ID: "scan-1", OverallScore: 12}
	scanner.On("Scan", mock.Anything, msg, AllLayers()).Return(want, nil).Once()

	first, err := svc.ScanMessage(context.Background(), msg)
	require.NoError(t, err)
	second, err := svc.ScanMessage(context.Background(), msg)
	require.NoError(t, err)

	assert.Same(t, want, first)
	assert.Equal(t, want.ID, second.ID)
	scanner.AssertNumberOfCalls(t, "Scan", 1)
}

func TestScanServiceSkipsCachingDegradedResults(t *testing.T) {
	tests := []struct {
		name     string
		degraded *ScanResult
	}{
		{"intent outage", &ScanResult{ID: "outage", OverallScore: 10, Intent: IntentResult{Degraded: true}}},
		{"reputation failure", &ScanResult{ID: "outage", OverallScore: 30, Reputation: ReputationResult{Degraded: true}}},
		{"dns failure", &ScanResult{ID: "outage", OverallScore: 60, Identity: IdentityResult{Status: IdentityFailed}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := new(mockScanner)
			cache := &mapCache{}
			svc := NewScanService(scanner, cache, zaptest.NewLogger(t), true, 24*time.Hour, AllLayers())

			msg := &Message{Subject: "Verify your account", SenderAddress: "security@evil.tk"}
			healthy := &ScanResult{ID: "healthy", OverallScore: 85}
			scanner.On("Scan", mock.Anything, msg, AllLayers()).Return(tt.degraded, nil).Once()
			scanner.On("Scan", mock.Anything, msg, AllLayers()).Return(healthy, nil).Once()

			first, err := svc.ScanMessage(context.Background(), msg)
			require.NoError(t, err)
			assert.Equal(t, "outage", first.ID)
			assert.Empty(t, cache.entries)

			second, err := svc.ScanMessage(context.Background(), msg)
			require.NoError(t, err)
			assert.Equal(t, "healthy", second.ID)
			assert.Equal(t, 85, second.OverallScore)

			third, err := svc.ScanMessage(context.Background(), msg)
			require.NoError(t, err)
			assert.Equal(t, "healthy", third.ID)
			scanner.AssertNumberOfCalls(t, "Scan", 2)
		})
	}
}

func TestScanServiceCacheKeyIncludesLayers(t *testing.T) {
	scanner := new(mockScanner)
	svc := NewScanService(scanner, &mapCache{}, zaptest.NewLogger(t), true, time.Hour, AllLayers())

	msg := &Message{Subject: "hi"}
	noIntent := LayerConfig{Identity: true, Reputation: true}
	scanner.On("Scan", mock.Anything, msg, AllLayers()).Return(&ScanResult{ID: "all"}, nil).Once()
	scanner.On("Scan", mock.Anything, msg, noIntent).Return(&ScanResult{ID: "partial"}, nil).Once()

	all, err := svc.ScanMessage(context.Background(), msg)
	require.NoError(t, err)
	partial, err := svc.ScanMessageWithLayers(context.Background(), msg, noIntent)
	require.NoError(t, err)

	assert.Equal(t, "all", all.ID)
	assert.Equal(t, "partial", partial.ID)
	scanner.AssertExpectations(t)
}

func TestScanServiceWithoutCache(t *testing.T) {
	scanner := new(mockScanner)
	svc := NewScanService(scanner, nil, zaptest.NewLogger(t), true, time.Hour, AllLayers())

	msg := &Message{Subject: "hi"}
	scanner.On("Scan", mock.Anything, msg, AllLayers()).Return(&ScanResult{ID: "x"}, nil).Twice()

	for i := 0; i < 2; i++ {
		_, err := svc.ScanMessage(context.Background(), msg)
		require.NoError(t, err)
	}
	scanner.AssertNumberOfCalls(t, "Scan", 2)
}

func TestScanServiceCacheWriteFailureIsNotFatal(t *testing.T) {
	scanner := new(mockScanner)
	svc := NewScanService(scanner, &mapCache{setErr: errors.New("disk full")}, zaptest.NewLogger(t), true, time.Hour, AllLayers())

	msg := &Message{Subject: "hi"}
	scanner.On("Scan", mock.Anything, msg, AllLayers()).Return(&ScanResult{ID: "x"}, nil)

	res, err := svc.ScanMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "x", res.ID)
}

func TestScanServiceNilMessage(t *testing.T) {
	svc := NewScanService(new(mockScanner), nil, zaptest.NewLogger(t), false, 0, AllLayers())
	_, err := svc.ScanMessage(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilMessage)
}

func TestFingerprint(t *testing.T) {
	a := &Message{SenderAddress: "A@Example.com", Subject: "s", BodyText: "b", URLs: []string{"https://x.test"}}
	b := &Message{SenderAddress: "a@example.com", Subject: "s", BodyText: "b", URLs: []string{"https://x.test"}}
	c := &Message{SenderAddress: "a@example.com", Subject: "s", BodyText: "b2", URLs: []string{"https://x.test"}}

	assert.Equal(t, Fingerprint(a, AllLayers()), Fingerprint(b, AllLayers()))
	assert.NotEqual(t, Fingerprint(a, AllLayers()), Fingerprint(c, AllLayers()))
	assert.NotEqual(t, Fingerprint(a, AllLayers()), Fingerprint(a, LayerConfig{}))
	assert.Len(t, Fingerprint(a, AllLayers()), 64)
}

func TestSubScoreMappings(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		assert.Equal(t, 0, IdentityResult{Status: IdentityVerified, SPFPass: true, DKIMPass: true, DMARCPass: true}.SubScore())
		assert.Equal(t, 100, IdentityResult{Status: IdentityFailed}.SubScore())
		assert.Equal(t, 100, IdentityResult{Status: IdentityUnverified, DMARCPass: true}.SubScore())
		assert.Equal(t, 30, IdentityResult{Status: IdentityUnverified, SPFPass: true, DKIMPass: true}.SubScore())
		assert.Equal(t, 50, IdentityResult{Status: IdentityUnverified, SPFPass: true, DMARCPass: true}.SubScore())
		assert.Equal(t, 0, IdentityResult{Disabled: true}.SubScore())
	})

	t.Run("reputation", func(t *testing.T) {
		assert.Equal(t, 0, ReputationResult{Status: ReputationSafe}.SubScore())
		assert.Equal(t, 70, ReputationResult{Status: ReputationSuspicious}.SubScore())
		assert.Equal(t, 100, ReputationResult{Status: ReputationDangerous}.SubScore())
		assert.Equal(t, 100, ReputationResult{Status: ReputationSuspicious, FlaggedDomains: []string{"a", "b", "c"}}.SubScore())
		assert.Equal(t, 70, ReputationResult{Status: ReputationSafe, FlaggedDomains: []string{"a"}}.SubScore())
	})

	t.Run("intent", func(t *testing.T) {
		assert.Equal(t, 100, IntentResult{Score: 140}.SubScore())
		assert.Equal(t, 0, IntentResult{Score: 90, Disabled: true}.SubScore())
	})
}

func TestPolicy(t *testing.T) {
	p := NewPolicy(PolicyOptions{SuspiciousTLDs: []string{"TK", ".xyz", " "}})

	tld, ok := p.SuspiciousTLD("login.Example.TK.")
	assert.True(t, ok)
	assert.Equal(t, ".tk", tld)
	_, ok = p.SuspiciousTLD("example.com")
	assert.False(t, ok)
	assert.Equal(t, []string{".tk", ".xyz"}, p.SuspiciousTLDs())
	assert.Equal(t, 3, p.SubdomainDepth())
	assert.Equal(t, 30, p.NewDomainDays())

	assert.Equal(t, VerdictSafe, p.Verdict(39))
	assert.Equal(t, VerdictSuspicious, p.Verdict(40))
	assert.Equal(t, VerdictPhishing, p.Verdict(70))
}

func TestDKIMSelectors(t *testing.T) {
	msg := &Message{Headers: map[string][]string{
		"DKIM-Signature": {"v=1; d=example.com; s=s2048; b=abc", "v=1; s=backup"},
		"Subject":        {"s=ignored"},
	}}
	assert.Equal(t, []string{"s2048", "backup"}, msg.DKIMSelectors())
}
