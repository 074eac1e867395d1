package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var milterHeaders = [][2]string{
	{"From", "\"Security Team\" <security@suspicious-site.tk>"},
	{"To", "alice@example.com"},
	{"Subject", "Your account will be suspended"},
	{"Message-ID", "<abc123@suspicious-site.tk>"},
	{"Content-Type", "text/plain; charset=utf-8"},
}

const milterBody = "Verify within 24 hours at https://suspicious-site.tk/verify or lose access.\r\n"

// feed replays one message through the milter callbacks up to the end of body
func feed(t *testing.T, s *milterSession) {
	t.Helper()
	_, err := s.MailFrom("<bounce@relay.example>", nil)
	require.NoError(t, err)
	_, err = s.RcptTo("<alice@example.com>", nil)
	require.NoError(t, err)
	for _, h := range milterHeaders {
		_, err = s.Header(h[0], h[1], nil)
		require.NoError(t, err)
	}
	_, err = s.BodyChunk([]byte(milterBody), nil)
	require.NoError(t, err)
}

func TestMilterSessionReassemblesMessage(t *testing.T) {
	scanner := new(mockScanner)
	scanner.On("ScanMessage", mock.Anything, mock.AnythingOfType("*core.Message")).Return(phishingResult(), nil)
	f := NewMilterFilter(scanner, zaptest.NewLogger(t), MilterOptions{})
	s := &milterSession{filter: f}

	feed(t, s)
	assert.Equal(t, "bounce@relay.example", s.sender)
	assert.True(t, s.hasSubject)

	d := f.decide(context.Background(), s.sender, s.raw())
	assert.False(t, d.reject)
	assert.Empty(t, d.subject)
	assert.Equal(t, [][2]string{
		{"X-Phish-Score", "93"},
		{"X-Phish-Verdict", "phishing"},
		{"X-Phish-Reason", "identity unverified; reputation dangerous (suspicious-site.tk); intent: Impersonates a security team with a deadline."},
	}, d.headers)

	scanned := scanner.Calls[0].Arguments.Get(1).(*core.Message)
	assert.Equal(t, "suspicious-site.tk", scanned.SenderDomain)
	assert.Equal(t, "Your account will be suspended", scanned.Subject)
	assert.Contains(t, scanned.BodyText, "Verify within 24 hours")
	assert.Contains(t, scanned.URLs, "https://suspicious-site.tk/verify")
}

func TestMilterDecisions(t *testing.T) {
	tests := []struct {
		name        string
		opts        MilterOptions
		result      *core.ScanResult
		scanErr     error
		wantReject  bool
		wantSubject string
		wantHeader  string
	}{
		{
			name:       "reject phishing",
			opts:       MilterOptions{RejectPhishing: true},
			result:     phishingResult(),
			wantReject: true,
		},
		{
			name:        "tag subject",
			opts:        MilterOptions{ModifySubject: true},
			result:      phishingResult(),
			wantSubject: "[PHISHING] Your account will be suspended",
			wantHeader:  "X-Phish-Verdict",
		},
		{
			name:       "safe message keeps subject",
			opts:       MilterOptions{ModifySubject: true, RejectPhishing: true},
			result:     &core.ScanResult{ID: "scan-2", OverallScore: 3, Verdict: core.VerdictSafe},
			wantHeader: "X-Phish-Verdict",
		},
		{
			name:       "scan error passes through",
			opts:       MilterOptions{RejectPhishing: true},
			scanErr:    errors.New("scanner offline"),
			wantHeader: "X-Phish-Analysis-Error",
		},
		{
			name:       "custom header names",
			opts:       MilterOptions{Headers: Headers{Verdict: "X-Mail-Verdict"}},
			result:     phishingResult(),
			wantHeader: "X-Mail-Verdict",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := new(mockScanner)
			scanner.On("ScanMessage", mock.Anything, mock.Anything).Return(tt.result, tt.scanErr)
			f := NewMilterFilter(scanner, zaptest.NewLogger(t), tt.opts)
			s := &milterSession{filter: f}
			feed(t, s)

			d := f.decide(context.Background(), s.sender, s.raw())
			assert.Equal(t, tt.wantReject, d.reject)
			assert.Equal(t, tt.wantSubject, d.subject)
			if tt.wantHeader == "" {
				assert.Empty(t, d.headers)
				return
			}
			var names []string
			for _, h := range d.headers {
				names = append(names, h[0])
			}
			assert.Contains(t, names, tt.wantHeader)
		})
	}
}

func TestMilterSessionAbortResets(t *testing.T) {
	f := NewMilterFilter(new(mockScanner), zaptest.NewLogger(t), MilterOptions{})
	s := &milterSession{filter: f}
	feed(t, s)

	require.NoError(t, s.Abort(nil))
	assert.Empty(t, s.sender)
	assert.False(t, s.hasSubject)
	assert.Equal(t, "\r\n", string(s.raw()))
}

func TestMilterSessionTracksArrivingFilterHeaders(t *testing.T) {
	f := NewMilterFilter(new(mockScanner), zaptest.NewLogger(t), MilterOptions{Headers: Headers{Verdict: "X-Mail-Verdict"}})
	s := &milterSession{filter: f}
	feed(t, s)
	for _, h := range [][2]string{
		{"X-Phish-Verdict", "safe"},
		{"x-phish-verdict", "clean"},
		{"X-Mail-Verdict", "safe"},
		{"X-Spam-Status", "No"},
	} {
		_, err := s.Header(h[0], h[1], nil)
		require.NoError(t, err)
	}

	assert.Equal(t, []headerRef{
		{name: "X-Mail-Verdict", index: 1},
		{name: "x-phish-verdict", index: 2},
		{name: "X-Phish-Verdict", index: 1},
	}, s.staleHeaders())

	require.NoError(t, s.Abort(nil))
	assert.Empty(t, s.staleHeaders())
}

func TestMilterFilterStartStop(t *testing.T) {
	f := NewMilterFilter(new(mockScanner), zaptest.NewLogger(t), MilterOptions{ListenAddress: "127.0.0.1:0"})
	require.NoError(t, f.Start())
	assert.NoError(t, f.Stop())
}
