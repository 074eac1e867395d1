package filter

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockScanner struct {
	mock.Mock
}

func (m *mockScanner) ScanMessage(ctx context.Context, msg *core.Message) (*core.ScanResult, error) {
	args := m.Called(ctx, msg)
	res, _ := args.Get(0).(*core.ScanResult)
	return res, args.Error(1)
}

func (m *mockScanner) ScanMessageWithLayers(ctx context.Context, msg *core.Message, layers core.LayerConfig) (*core.ScanResult, error) {
	args := m.Called(ctx, msg, layers)
	res, _ := args.Get(0).(*core.ScanResult)
	return res, args.Error(1)
}

func phishingResult() *core.ScanResult {
	return &core.ScanResult{
		ID:           "scan-1",
		OverallScore: 93,
		Verdict:      core.VerdictPhishing,
		Identity:     core.IdentityResult{Status: core.IdentityUnverified},
		Reputation: core.ReputationResult{
			Status:         core.ReputationDangerous,
			FlaggedDomains: []string{"suspicious-site.tk"},
		},
		Intent: core.IntentResult{Score: 82, Reason: "Impersonates a security team\r\nwith a deadline."},
	}
}

// captureServer stands in for the Postfix re-injection port
type captureServer struct {
	mu       sync.Mutex
	messages []capturedMessage
	addr     *net.TCPAddr
	server   *smtp.Server
}

type capturedMessage struct {
	from string
	to   []string
	data string
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cs := &captureServer{addr: l.Addr().(*net.TCPAddr)}
	cs.server = smtp.NewServer(cs)
	cs.server.Domain = "localhost"
	cs.server.AllowInsecureAuth = true
	go func() { _ = cs.server.Serve(l) }()
	t.Cleanup(func() { _ = cs.server.Close() })
	return cs
}

func (cs *captureServer) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &captureSession{server: cs}, nil
}

func (cs *captureServer) received() []capturedMessage {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]capturedMessage(nil), cs.messages...)
}

type captureSession struct {
	server *captureServer
	msg    capturedMessage
}

func (s *captureSession) Reset()        { s.msg = capturedMessage{} }
func (s *captureSession) Logout() error { return nil }
func (s *captureSession) Mail(from string, _ *smtp.MailOptions) error {
	s.msg.from = from
	return nil
}
func (s *captureSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.msg.to = append(s.msg.to, to)
	return nil
}
func (s *captureSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.data = string(data)
	s.server.mu.Lock()
	s.server.messages = append(s.server.messages, s.msg)
	s.server.mu.Unlock()
	return nil
}

func newTestFilter(t *testing.T, scanner *mockScanner, downstream *captureServer, opts PostfixOptions) *PostfixFilter {
	opts.PostfixEnabled = true
	opts.PostfixAddress = "127.0.0.1"
	opts.PostfixPort = downstream.addr.Port
	return NewPostfixFilter(scanner, zaptest.NewLogger(t), opts)
}

func deliver(t *testing.T, f *PostfixFilter, raw string) error {
	t.Helper()
	session := &smtpSession{filter: f}
	require.NoError(t, session.Mail("security@suspicious-site.tk", nil))
	require.NoError(t, session.Rcpt("alice@example.com", nil))
	return session.Data(strings.NewReader(raw))
}

func TestPostfixFilterAddsHeaders(t *testing.T) {
	scanner := new(mockScanner)
	scanner.On("ScanMessage", mock.Anything, mock.AnythingOfType("*core.Message")).Return(phishingResult(), nil)
	downstream := newCaptureServer(t)
	f := newTestFilter(t, scanner, downstream, PostfixOptions{})

	require.NoError(t, deliver(t, f, multipartMessage))

	msgs := downstream.received()
	require.Len(t, msgs, 1)
	assert.Equal(t, "security@suspicious-site.tk", msgs[0].from)
	assert.Equal(t, []string{"alice@example.com"}, msgs[0].to)

	data := msgs[0].data
	assert.True(t, strings.HasPrefix(data, "X-Phish-Score: 93\r\n"))
	assert.Contains(t, data, "X-Phish-Verdict: phishing\r\n")
	assert.Contains(t, data, "X-Phish-Reason: identity unverified; reputation dangerous (suspicious-site.tk); intent: Impersonates a security team with a deadline.\r\n")
	assert.Contains(t, data, "Subject: =?UTF-8?Q?Your_account_will_be_suspended?=")
	assert.Contains(t, data, "Verify within 24 hours")

	scanned := scanner.Calls[0].Arguments.Get(1).(*core.Message)
	assert.Equal(t, "suspicious-site.tk", scanned.SenderDomain)
}

func TestPostfixFilterRejectsPhishing(t *testing.T) {
	scanner := new(mockScanner)
	scanner.On("ScanMessage", mock.Anything, mock.Anything).Return(phishingResult(), nil)
	downstream := newCaptureServer(t)
	f := newTestFilter(t, scanner, downstream, PostfixOptions{RejectPhishing: true})

	err := deliver(t, f, multipartMessage)

	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 550, smtpErr.Code)
	assert.Empty(t, downstream.received())
}

func TestPostfixFilterTagsSubject(t *testing.T) {
	scanner := new(mockScanner)
	scanner.On("ScanMessage", mock.Anything, mock.Anything).Return(phishingResult(), nil)
	downstream := newCaptureServer(t)
	f := newTestFilter(t, scanner, downstream, PostfixOptions{ModifySubject: true})

	require.NoError(t, deliver(t, f, multipartMessage))

	msgs := downstream.received()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].data, "Subject: [PHISHING] Your account will be suspended\r\n")
	assert.Equal(t, 1, strings.Count(strings.ToLower(msgs[0].data), "\nsubject:"))
}

func TestPostfixFilterPassesThroughOnScanError(t *testing.T) {
	scanner := new(mockScanner)
	scanner.On("ScanMessage", mock.Anything, mock.Anything).Return(nil, errors.New("scanner offline"))
	downstream := newCaptureServer(t)
	f := newTestFilter(t, scanner, downstream, PostfixOptions{RejectPhishing: true})

	require.NoError(t, deliver(t, f, multipartMessage))

	msgs := downstream.received()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].data, "X-Phish-Analysis-Error: scanner offline\r\n")
	assert.NotContains(t, msgs[0].data, "X-Phish-Verdict")
}

func TestPostfixFilterReplacesArrivingFilterHeaders(t *testing.T) {
	scanner := new(mockScanner)
	scanner.On("ScanMessage", mock.Anything, mock.Anything).Return(phishingResult(), nil)
	downstream := newCaptureServer(t)
	f := newTestFilter(t, scanner, downstream, PostfixOptions{})

	seeded := "X-Phish-Verdict: safe\r\nX-PHISH-Reason: trusted\r\n sender\r\nX-Phish-Analysis-Error: none\r\n" + multipartMessage
	require.NoError(t, deliver(t, f, seeded))

	msgs := downstream.received()
	require.Len(t, msgs, 1)
	data := msgs[0].data
	lower := strings.ToLower(data)
	assert.Equal(t, 1, strings.Count(lower, "x-phish-verdict:"))
	assert.Equal(t, 1, strings.Count(lower, "x-phish-reason:"))
	assert.Contains(t, data, "X-Phish-Verdict: phishing\r\n")
	assert.NotContains(t, data, "X-Phish-Verdict: safe")
	assert.NotContains(t, data, "trusted\r\n sender")
	assert.NotContains(t, data, "X-Phish-Analysis-Error")
	assert.Contains(t, data, "Verify within 24 hours")
}

func TestStripHeaders(t *testing.T) {
	owned := DefaultHeaders().owns
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "nothing to strip",
			raw:  "From: a@example.com\r\nSubject: hi\r\n\r\nX-Phish-Verdict: in body\r\n",
			want: "From: a@example.com\r\nSubject: hi\r\n\r\nX-Phish-Verdict: in body\r\n",
		},
		{
			name: "folded and mixed case",
			raw:  "x-phish-reason: a\r\n\tb\r\nFrom: a@example.com\r\nX-Phish-Score: 0\r\n\r\nbody\r\n",
			want: "From: a@example.com\r\n\r\nbody\r\n",
		},
		{
			name: "bare newlines",
			raw:  "Subject: hi\nX-Phish-Verdict: safe\n\nbody\n",
			want: "Subject: hi\n\nbody\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(stripHeaders([]byte(tt.raw), owned)))
		})
	}

	custom := Headers{Score: "X-Score", Verdict: "X-Verdict", Reason: "X-Reason"}
	assert.True(t, custom.owns("x-verdict"))
	assert.True(t, custom.owns("X-Phish-Analysis-Error"))
	assert.False(t, custom.owns("X-Spam-Status"))
}

func TestPostfixFilterSafeMessageUntagged(t *testing.T) {
	scanner := new(mockScanner)
	scanner.On("ScanMessage", mock.Anything, mock.Anything).Return(&core.ScanResult{
		ID:       "scan-2",
		Verdict:  core.VerdictSafe,
		Identity: core.IdentityResult{Status: core.IdentityVerified},
		Reputation: core.ReputationResult{
			Status: core.ReputationSafe,
		},
		Intent: core.IntentResult{Disabled: true},
	}, nil)
	downstream := newCaptureServer(t)
	f := newTestFilter(t, scanner, downstream, PostfixOptions{ModifySubject: true, RejectPhishing: true})

	require.NoError(t, deliver(t, f, multipartMessage))

	msgs := downstream.received()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].data, "X-Phish-Score: 0\r\n")
	assert.Contains(t, msgs[0].data, "X-Phish-Reason: no risk indicators\r\n")
	assert.NotContains(t, msgs[0].data, "[PHISHING]")
}

func TestTagSubject(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		subj string
		want string
	}{
		{
			"folded subject replaced",
			"From: a@b.example\r\nSubject: Hello\r\n world\r\nTo: c@d.example\r\n\r\nbody\r\n",
			"Hello world",
			"From: a@b.example\r\nSubject: [P] Hello world\r\nTo: c@d.example\r\n\r\nbody\r\n",
		},
		{
			"missing subject added",
			"From: a@b.example\r\n\r\nbody\r\n",
			"",
			"Subject: [P]\r\nFrom: a@b.example\r\n\r\nbody\r\n",
		},
		{
			"already tagged",
			"Subject: [P] Hi\r\n\r\nbody",
			"[P] Hi",
			"Subject: [P] Hi\r\n\r\nbody",
		},
		{
			"subject text in body untouched",
			"From: a@b.example\r\nSubject: Hi\n\nSubject: not a header\n",
			"Hi",
			"From: a@b.example\r\nSubject: [P] Hi\r\n\nSubject: not a header\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tagSubject([]byte(tt.raw), tt.subj, "[P] ")))
		})
	}
}

func TestHeaderValue(t *testing.T) {
	assert.Equal(t, "a b c", headerValue("a\r\n b\tc"))
	assert.Equal(t, "=?utf-8?q?caf=C3=A9?=", headerValue("café"))
	assert.Equal(t, maxReasonHeaderLength, len(headerValue(strings.Repeat("x", 500))))
}

func TestPostfixFilterStartStop(t *testing.T) {
	f := NewPostfixFilter(new(mockScanner), zaptest.NewLogger(t), PostfixOptions{ListenAddress: "127.0.0.1:0"})
	require.NoError(t, f.Start())
	time.Sleep(10 * time.Millisecond)
	assert.NoError(t, f.Stop())
}
