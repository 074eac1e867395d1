package filter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-smtp"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/ports"
	"go.uber.org/zap"
)

// maxReasonHeaderLength bounds the reason header value in runes
const maxReasonHeaderLength = 200

// Headers names the headers added to filtered messages
type Headers struct {
	Score   string
	Verdict string
	Reason  string
}

// ownedHeaderPrefix prefixes every header the filters write
const ownedHeaderPrefix = "X-Phish-"

// DefaultHeaders returns the X-Phish-* header names
func DefaultHeaders() Headers {
	return Headers{Score: "X-Phish-Score", Verdict: "X-Phish-Verdict", Reason: "X-Phish-Reason"}
}

// owns reports whether name is a header the filters write.
// Copies arriving with a message are removed before the scan headers are added.
func (h Headers) owns(name string) bool {
	name = strings.TrimSpace(name)
	if len(name) >= len(ownedHeaderPrefix) && strings.EqualFold(name[:len(ownedHeaderPrefix)], ownedHeaderPrefix) {
		return true
	}
	return strings.EqualFold(name, h.Score) || strings.EqualFold(name, h.Verdict) || strings.EqualFold(name, h.Reason)
}

// PostfixOptions configures the content filter
type PostfixOptions struct {
	ListenAddress  string
	RejectPhishing bool
	ModifySubject  bool
	SubjectPrefix  string
	Headers        Headers
	PostfixAddress string
	PostfixPort    int
	PostfixEnabled bool
	ScanTimeout    time.Duration
}

// PostfixFilter implements a Postfix content filter
type PostfixFilter struct {
	service ports.MessageScanner
	logger  *zap.Logger
	opts    PostfixOptions
	server  *smtp.Server
}

// NewPostfixFilter creates a new Postfix content filter
func NewPostfixFilter(service ports.MessageScanner, logger *zap.Logger, opts PostfixOptions) *PostfixFilter {
	if opts.SubjectPrefix == "" && opts.ModifySubject {
		opts.SubjectPrefix = "[PHISHING] "
	}
	defaults := DefaultHeaders()
	if opts.Headers.Score == "" {
		opts.Headers.Score = defaults.Score
	}
	if opts.Headers.Verdict == "" {
		opts.Headers.Verdict = defaults.Verdict
	}
	if opts.Headers.Reason == "" {
		opts.Headers.Reason = defaults.Reason
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 2 * time.Minute
	}

	return &PostfixFilter{
		service: service,
		logger:  logger,
		opts:    opts,
	}
}

// Start starts the Postfix filter service
func (f *PostfixFilter) Start() error {
	f.server = smtp.NewServer(&smtpBackend{filter: f})

	f.server.Addr = f.opts.ListenAddress
	f.server.Domain = "localhost"
	f.server.ReadTimeout = 30 * time.Second
	f.server.WriteTimeout = 30 * time.Second
	f.server.MaxMessageBytes = 30 * 1024 * 1024
	f.server.MaxRecipients = 50
	f.server.AllowInsecureAuth = true

	f.logger.Info("Postfix filter starting", zap.String("address", f.opts.ListenAddress))

	go func() {
		if err := f.server.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			f.logger.Error("SMTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the Postfix filter service
func (f *PostfixFilter) Stop() error {
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// filterMessage scans a raw message and returns the rewritten message.
// A nil result with a non-nil error means the message must be rejected.
func (f *PostfixFilter) filterMessage(ctx context.Context, sender string, raw []byte) ([]byte, error) {
	msg, err := ParseRawMessage(raw, sender)
	if err != nil {
		// Unparsable mail still goes through; Postfix decides what to do with it
		f.logger.Warn("Failed to parse message, passing through", zap.String("sender", sender), zap.Error(err))
		return f.withHeaders(raw, [][2]string{{"X-Phish-Analysis-Error", headerValue(err.Error())}}), nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.ScanTimeout)
	defer cancel()

	result, scanErr := f.service.ScanMessage(ctx, msg)
	if scanErr != nil {
		f.logger.Error("Failed to scan message",
			zap.Error(scanErr),
			zap.String("sender", msg.SenderAddress),
			zap.String("sender_domain", msg.SenderDomain))
		return f.withHeaders(raw, [][2]string{{"X-Phish-Analysis-Error", headerValue(scanErr.Error())}}), nil
	}

	if result.Verdict == core.VerdictPhishing && f.opts.RejectPhishing {
		f.logger.Info("Rejecting phishing message",
			zap.String("scan_id", result.ID),
			zap.String("sender", msg.SenderAddress),
			zap.Int("score", result.OverallScore))
		return nil, &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      fmt.Sprintf("Rejected as phishing (score: %d)", result.OverallScore),
		}
	}

	headers := [][2]string{
		{f.opts.Headers.Score, strconv.Itoa(result.OverallScore)},
		{f.opts.Headers.Verdict, string(result.Verdict)},
		{f.opts.Headers.Reason, headerValue(ReasonSummary(result))},
	}
	out := raw
	if result.Verdict == core.VerdictPhishing && f.opts.ModifySubject {
		out = tagSubject(out, msg.Subject, f.opts.SubjectPrefix)
	}

	f.logger.Info("Processed message",
		zap.String("scan_id", result.ID),
		zap.String("sender", msg.SenderAddress),
		zap.String("sender_domain", msg.SenderDomain),
		zap.Int("score", result.OverallScore),
		zap.String("verdict", string(result.Verdict)))

	return f.withHeaders(out, headers), nil
}

// withHeaders replaces any filter headers the message arrived with
func (f *PostfixFilter) withHeaders(raw []byte, headers [][2]string) []byte {
	return prependHeaders(stripHeaders(raw, f.opts.Headers.owns), headers)
}

// ReasonSummary condenses the per-layer reasons into one line
func ReasonSummary(result *core.ScanResult) string {
	var parts []string
	if r := result.Identity; !r.Disabled && r.Status != core.IdentityVerified {
		parts = append(parts, "identity "+string(r.Status))
	}
	if r := result.Reputation; !r.Disabled && r.Status != core.ReputationSafe {
		desc := "reputation " + string(r.Status)
		if len(r.FlaggedDomains) > 0 {
			desc += " (" + strings.Join(r.FlaggedDomains, ", ") + ")"
		}
		parts = append(parts, desc)
	}
	if r := result.Intent; !r.Disabled && r.Reason != "" {
		parts = append(parts, "intent: "+r.Reason)
	}
	if len(parts) == 0 {
		return "no risk indicators"
	}
	return strings.Join(parts, "; ")
}

// headerValue makes text safe for a single unfolded header line
func headerValue(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxReasonHeaderLength {
		s = string([]rune(s)[:maxReasonHeaderLength])
	}
	if !isASCII(s) {
		return mime.QEncoding.Encode("utf-8", s)
	}
	return s
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// prependHeaders adds header lines before the existing header block
func prependHeaders(raw []byte, headers [][2]string) []byte {
	var buf bytes.Buffer
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.Write(raw)
	return buf.Bytes()
}

// stripHeaders removes the header fields, folded lines included, whose name matches drop
func stripHeaders(raw []byte, drop func(name string) bool) []byte {
	end := headerEnd(raw)
	lines := bytes.SplitAfter(raw[:end], []byte("\n"))

	var out bytes.Buffer
	skipping := false
	for _, line := range lines {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if !skipping {
				out.Write(line)
			}
			continue
		}
		skipping = false
		if i := bytes.IndexByte(line, ':'); i > 0 && drop(string(line[:i])) {
			skipping = true
			continue
		}
		out.Write(line)
	}
	out.Write(raw[end:])
	return out.Bytes()
}

// headerEnd returns the offset of the blank line separating headers from body
func headerEnd(raw []byte) int {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return i + 2
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return i + 1
	}
	return len(raw)
}

// tagSubject replaces the Subject header, folded lines included, with the
// prefixed subject. A message without a subject gets one.
func tagSubject(raw []byte, subject, prefix string) []byte {
	if prefix == "" || strings.HasPrefix(subject, prefix) {
		return raw
	}
	tagged := "Subject: " + headerSubject(prefix+subject) + "\r\n"

	end := headerEnd(raw)
	lines := bytes.SplitAfter(raw[:end], []byte("\n"))

	var out bytes.Buffer
	replaced, skipping := false, false
	for _, line := range lines {
		if skipping && len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			continue
		}
		skipping = false
		if !replaced && len(line) >= 8 && strings.EqualFold(string(line[:8]), "subject:") {
			out.WriteString(tagged)
			replaced, skipping = true, true
			continue
		}
		out.Write(line)
	}
	if !replaced {
		return append([]byte(tagged), raw...)
	}
	out.Write(raw[end:])
	return out.Bytes()
}

func headerSubject(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if !isASCII(s) {
		return mime.QEncoding.Encode("utf-8", s)
	}
	return s
}

// sendToPostfix re-injects the filtered message into Postfix
func (f *PostfixFilter) sendToPostfix(sender string, recipients []string, data []byte) error {
	postfixAddr := net.JoinHostPort(f.opts.PostfixAddress, strconv.Itoa(f.opts.PostfixPort))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", postfixAddr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to Postfix: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	recipientOK := false
	for _, recipient := range recipients {
		if err := c.Rcpt(recipient, nil); err != nil {
			f.logger.Warn("RCPT TO failed for recipient", zap.String("recipient", recipient), zap.Error(err))
			continue
		}
		recipientOK = true
	}
	if !recipientOK {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		f.logger.Warn("QUIT command failed", zap.Error(err))
	}
	return nil
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	filter *PostfixFilter
}

// NewSession creates a new SMTP session
func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{filter: b.filter}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	filter     *PostfixFilter
	sender     string
	recipients []string
}

// Reset resets the session state
func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Mail sets the sender address
func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt adds a recipient
func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data scans the message and re-injects it with the scan headers
func (s *smtpSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.filter.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	filtered, err := s.filter.filterMessage(context.Background(), s.sender, raw)
	if err != nil {
		return err
	}

	if !s.filter.opts.PostfixEnabled {
		s.filter.logger.Warn("Postfix forwarding disabled, this is likely a misconfiguration")
		return nil
	}
	if err := s.filter.sendToPostfix(s.sender, s.recipients, filtered); err != nil {
		s.filter.logger.Error("Failed to send message back to Postfix", zap.Error(err), zap.String("sender", s.sender))
		return err
	}
	return nil
}

// Logout handles SMTP logout
func (s *smtpSession) Logout() error {
	return nil
}
