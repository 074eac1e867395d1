package filter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-milter"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/ports"
	"go.uber.org/zap"
)

// maxMilterBodyBytes bounds the body buffered per message
const maxMilterBodyBytes = 30 * 1024 * 1024

// MilterOptions configures the milter filter
type MilterOptions struct {
	ListenAddress  string
	RejectPhishing bool
	ModifySubject  bool
	SubjectPrefix  string
	Headers        Headers
	ScanTimeout    time.Duration
}

// MilterFilter implements a Milter filter for phishing detection
type MilterFilter struct {
	service ports.MessageScanner
	logger  *zap.Logger
	opts    MilterOptions
	server  *milter.Server
}

// NewMilterFilter creates a new Milter filter
func NewMilterFilter(service ports.MessageScanner, logger *zap.Logger, opts MilterOptions) *MilterFilter {
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

	return &MilterFilter{
		service: service,
		logger:  logger,
		opts:    opts,
	}
}

// Start starts the Milter filter service
func (f *MilterFilter) Start() error {
	ln, err := net.Listen("tcp", f.opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", f.opts.ListenAddress, err)
	}

	f.server = &milter.Server{
		NewMilter: func() milter.Milter { return &milterSession{filter: f} },
		Actions:   milter.OptAddHeader | milter.OptChangeHeader,
		Protocol:  milter.OptNoConnect | milter.OptNoHelo,
	}

	f.logger.Info("Milter filter started", zap.String("address", ln.Addr().String()))

	go func() {
		if err := f.server.Serve(ln); err != nil && !errors.Is(err, milter.ErrServerClosed) {
			f.logger.Error("Milter server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the Milter filter service
func (f *MilterFilter) Stop() error {
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// milterDecision is what the MTA is told to do with a message
type milterDecision struct {
	reject  bool
	headers [][2]string
	// subject replaces the first Subject header when non-empty
	subject string
}

// decide scans a reassembled message. Scan failures never block mail.
func (f *MilterFilter) decide(ctx context.Context, sender string, raw []byte) milterDecision {
	msg, err := ParseRawMessage(raw, sender)
	if err != nil {
		f.logger.Warn("Failed to parse message, passing through", zap.String("sender", sender), zap.Error(err))
		return milterDecision{headers: [][2]string{{"X-Phish-Analysis-Error", headerValue(err.Error())}}}
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.ScanTimeout)
	defer cancel()

	result, err := f.service.ScanMessage(ctx, msg)
	if err != nil {
		f.logger.Error("Failed to scan message",
			zap.Error(err),
			zap.String("sender", msg.SenderAddress),
			zap.String("sender_domain", msg.SenderDomain))
		return milterDecision{headers: [][2]string{{"X-Phish-Analysis-Error", headerValue(err.Error())}}}
	}

	f.logger.Info("Processed message",
		zap.String("scan_id", result.ID),
		zap.String("sender", msg.SenderAddress),
		zap.String("sender_domain", msg.SenderDomain),
		zap.Int("score", result.OverallScore),
		zap.String("verdict", string(result.Verdict)))

	phishing := result.Verdict == core.VerdictPhishing
	if phishing && f.opts.RejectPhishing {
		f.logger.Info("Rejecting phishing message",
			zap.String("scan_id", result.ID),
			zap.String("sender", msg.SenderAddress),
			zap.Int("score", result.OverallScore))
		return milterDecision{reject: true}
	}

	d := milterDecision{headers: [][2]string{
		{f.opts.Headers.Score, strconv.Itoa(result.OverallScore)},
		{f.opts.Headers.Verdict, string(result.Verdict)},
		{f.opts.Headers.Reason, headerValue(ReasonSummary(result))},
	}}
	if phishing && f.opts.ModifySubject && f.opts.SubjectPrefix != "" &&
		!strings.HasPrefix(msg.Subject, f.opts.SubjectPrefix) {
		d.subject = headerSubject(f.opts.SubjectPrefix + msg.Subject)
	}
	return d
}

// milterSession collects one message across the milter callbacks
type milterSession struct {
	filter     *MilterFilter
	sender     string
	header     bytes.Buffer
	body       bytes.Buffer
	hasSubject bool
	truncated  bool
	// stale holds filter headers the message arrived with, in arrival order
	stale      []string
}

// headerRef addresses the index-th occurrence (1-based) of a header name
type headerRef struct {
	name  string
	index int
}

func (s *milterSession) reset() {
	s.sender = ""
	s.header.Reset()
	s.body.Reset()
	s.hasSubject = false
	s.truncated = false
	s.stale = nil
}

// staleHeaders returns the arrived filter headers, last occurrence first so
// that removing one does not shift the index of the next
func (s *milterSession) staleHeaders() []headerRef {
	seen := make(map[string]int, len(s.stale))
	refs := make([]headerRef, 0, len(s.stale))
	for _, name := range s.stale {
		key := textproto.CanonicalMIMEHeaderKey(name)
		seen[key]++
		refs = append(refs, headerRef{name: name, index: seen[key]})
	}
	for i, j := 0, len(refs)-1; i < j; i, j = i+1, j-1 {
		refs[i], refs[j] = refs[j], refs[i]
	}
	return refs
}

// raw reassembles the message as the MTA received it
func (s *milterSession) raw() []byte {
	out := make([]byte, 0, s.header.Len()+2+s.body.Len())
	out = append(out, s.header.Bytes()...)
	out = append(out, '\r', '\n')
	return append(out, s.body.Bytes()...)
}

// Connect implements the milter.Milter interface
func (s *milterSession) Connect(_ string, _ string, _ uint16, _ net.IP, _ *milter.Modifier) (milter.Response, error) {
	return milter.RespContinue, nil
}

// Helo implements the milter.Milter interface
func (s *milterSession) Helo(_ string, _ *milter.Modifier) (milter.Response, error) {
	return milter.RespContinue, nil
}

// MailFrom starts a new message
func (s *milterSession) MailFrom(from string, _ *milter.Modifier) (milter.Response, error) {
	s.reset()
	s.sender = strings.Trim(strings.TrimSpace(from), "<>")
	return milter.RespContinue, nil
}

// RcptTo implements the milter.Milter interface
func (s *milterSession) RcptTo(_ string, _ *milter.Modifier) (milter.Response, error) {
	return milter.RespContinue, nil
}

// Header records one header line in arrival order
func (s *milterSession) Header(name string, value string, _ *milter.Modifier) (milter.Response, error) {
	if textproto.CanonicalMIMEHeaderKey(name) == "Subject" {
		s.hasSubject = true
	}
	if s.filter.opts.Headers.owns(name) {
		s.stale = append(s.stale, name)
	}
	fmt.Fprintf(&s.header, "%s: %s\r\n", name, value)
	return milter.RespContinue, nil
}

// Headers implements the milter.Milter interface
func (s *milterSession) Headers(_ textproto.MIMEHeader, _ *milter.Modifier) (milter.Response, error) {
	return milter.RespContinue, nil
}

// BodyChunk buffers the body up to maxMilterBodyBytes
func (s *milterSession) BodyChunk(chunk []byte, _ *milter.Modifier) (milter.Response, error) {
	if room := maxMilterBodyBytes - s.body.Len(); room < len(chunk) {
		if !s.truncated {
			s.filter.logger.Warn("Message body exceeds buffer limit, scanning the first part only",
				zap.String("sender", s.sender),
				zap.Int("limit", maxMilterBodyBytes))
		}
		s.truncated = true
		chunk = chunk[:max(room, 0)]
	}
	s.body.Write(chunk)
	return milter.RespContinue, nil
}

// Body scans the message and applies the decision
func (s *milterSession) Body(m *milter.Modifier) (milter.Response, error) {
	defer s.reset()

	d := s.filter.decide(context.Background(), s.sender, s.raw())
	if d.reject {
		return milter.RespReject, nil
	}
	for _, ref := range s.staleHeaders() {
		// an empty value deletes the header
		if err := m.ChangeHeader(ref.index, ref.name, ""); err != nil {
			s.filter.logger.Error("Failed to remove header", zap.String("header", ref.name), zap.Error(err))
			return milter.RespAccept, nil
		}
	}
	for _, h := range d.headers {
		if err := m.AddHeader(h[0], h[1]); err != nil {
			s.filter.logger.Error("Failed to add header", zap.String("header", h[0]), zap.Error(err))
			return milter.RespAccept, nil
		}
	}
	if d.subject != "" {
		var err error
		if s.hasSubject {
			err = m.ChangeHeader(1, "Subject", d.subject)
		} else {
			err = m.AddHeader("Subject", d.subject)
		}
		if err != nil {
			s.filter.logger.Error("Failed to tag subject", zap.Error(err))
		}
	}
	return milter.RespAccept, nil
}

// Abort drops the message collected so far
func (s *milterSession) Abort(_ *milter.Modifier) error {
	s.reset()
	return nil
}
