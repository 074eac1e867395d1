package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	amqp "github.com/rabbitmq/amqp091-go"
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

// ackRecorder records how each delivery was settled
type ackRecorder struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (a *ackRecorder) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *ackRecorder) settled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked) + len(a.nacked)
}

type published struct {
	exchange   string
	routingKey string
	message    ScanCompletedMessage
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, exchange, routingKey string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{exchange: exchange, routingKey: routingKey, message: message.(ScanCompletedMessage)})
	return nil
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.sent...)
}

func newWorker(t *testing.T, scanner *mockScanner, publisher *fakePublisher) *ScanWorker {
	t.Helper()
	w := NewScanWorker(scanner, publisher, validator.New(), core.AllLayers(), WorkerOptions{
		Exchange: DefaultExchange,
		Workers:  2,
	}, zaptest.NewLogger(t))
	w.Start(context.Background())
	return w
}

func delivery(t *testing.T, acks *ackRecorder, tag uint64, routingKey string, body interface{}) *amqp.Delivery {
	t.Helper()
	raw, ok := body.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return &amqp.Delivery{
		Acknowledger: acks,
		DeliveryTag:  tag,
		RoutingKey:   routingKey,
		Body:         raw,
	}
}

func TestScanWorkerPublishesResult(t *testing.T) {
	scanner := &mockScanner{}
	publisher := &fakePublisher{}
	acks := &ackRecorder{}
	w := newWorker(t, scanner, publisher)

	result := &core.ScanResult{ID: "scan-1", OverallScore: 88, Verdict: core.VerdictPhishing}
	scanner.On("ScanMessageWithLayers", mock.Anything, mock.MatchedBy(func(msg *core.Message) bool {
		return msg.ID == "chat-9" && msg.SenderDomain == "suspicious-site.tk"
	}), core.LayerConfig{Identity: true, Reputation: false, Intent: true}).Return(result, nil)

	off := false
	request := map[string]interface{}{
		"requestId": "req-1",
		"message": map[string]interface{}{
			"id":     "chat-9",
			"sender": "security@suspicious-site.tk",
			"body":   "Verify within 24 hours",
			"layers": map[string]interface{}{"reputation": off},
		},
	}
	w.Handle(context.Background(), delivery(t, acks, 7, DefaultRequestRoutingKey, request))

	require.Eventually(t, func() bool { return acks.settled() == 1 }, 2*time.Second, 10*time.Millisecond)
	w.Stop(context.Background())

	assert.Equal(t, []uint64{7}, acks.acked)
	sent := publisher.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, DefaultExchange, sent[0].exchange)
	assert.Equal(t, DefaultResultRoutingKey, sent[0].routingKey)
	assert.Equal(t, "req-1", sent[0].message.RequestID)
	assert.Equal(t, "chat-9", sent[0].message.MessageID)
	assert.Equal(t, result, sent[0].message.Result)
	assert.Empty(t, sent[0].message.Error)
	assert.False(t, sent[0].message.CompletedAt.IsZero())
	scanner.AssertExpectations(t)
}

func TestScanWorkerReportsScanError(t *testing.T) {
	scanner := &mockScanner{}
	publisher := &fakePublisher{}
	acks := &ackRecorder{}
	w := newWorker(t, scanner, publisher)

	scanner.On("ScanMessageWithLayers", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("scanner unavailable"))

	w.Handle(context.Background(), delivery(t, acks, 3, DefaultRequestRoutingKey, map[string]interface{}{
		"requestId": "req-2",
		"message":   map[string]interface{}{"subject": "hello"},
	}))

	require.Eventually(t, func() bool { return acks.settled() == 1 }, 2*time.Second, 10*time.Millisecond)
	w.Stop(context.Background())

	sent := publisher.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "scanner unavailable", sent[0].message.Error)
	assert.Nil(t, sent[0].message.Result)
	assert.Equal(t, []uint64{3}, acks.acked)
}

func TestScanWorkerRequeuesWhenPublishFails(t *testing.T) {
	scanner := &mockScanner{}
	publisher := &fakePublisher{err: errors.New("channel closed")}
	acks := &ackRecorder{}
	w := newWorker(t, scanner, publisher)

	scanner.On("ScanMessageWithLayers", mock.Anything, mock.Anything, mock.Anything).
		Return(&core.ScanResult{ID: "scan-3"}, nil)

	w.Handle(context.Background(), delivery(t, acks, 11, DefaultRequestRoutingKey, map[string]interface{}{
		"requestId": "req-3",
		"message":   map[string]interface{}{"body": "hello"},
	}))

	require.Eventually(t, func() bool { return acks.settled() == 1 }, 2*time.Second, 10*time.Millisecond)
	w.Stop(context.Background())

	assert.Empty(t, acks.acked)
	assert.Equal(t, []uint64{11}, acks.nacked)
	assert.Equal(t, []bool{true}, acks.requeue)
}

func TestScanWorkerRejectsInvalidDeliveries(t *testing.T) {
	tests := []struct {
		name       string
		routingKey string
		body       interface{}
	}{
		{
			name:       "unknown routing key",
			routingKey: "message.scan.other",
			body:       map[string]interface{}{"requestId": "req-4"},
		},
		{
			name:       "malformed json",
			routingKey: DefaultRequestRoutingKey,
			body:       []byte(`{"requestId":`),
		},
		{
			name:       "missing request id",
			routingKey: DefaultRequestRoutingKey,
			body:       map[string]interface{}{"message": map[string]interface{}{"body": "hi"}},
		},
		{
			name:       "empty url",
			routingKey: DefaultRequestRoutingKey,
			body: map[string]interface{}{
				"requestId": "req-5",
				"message":   map[string]interface{}{"urls": []string{""}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := &mockScanner{}
			publisher := &fakePublisher{}
			acks := &ackRecorder{}
			w := newWorker(t, scanner, publisher)

			w.Handle(context.Background(), delivery(t, acks, 1, tt.routingKey, tt.body))
			w.Stop(context.Background())

			assert.Equal(t, []uint64{1}, acks.nacked)
			assert.Equal(t, []bool{false}, acks.requeue)
			assert.Empty(t, publisher.messages())
			scanner.AssertNotCalled(t, "ScanMessageWithLayers", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestNewServiceDefaults(t *testing.T) {
	s := NewService(config.AMQPConfig{Workers: 3}, &mockScanner{}, core.AllLayers(), zaptest.NewLogger(t))

	assert.Equal(t, DefaultExchange, s.cfg.Exchange)
	assert.Equal(t, DefaultQueue, s.cfg.Queue)
	assert.Equal(t, DefaultRequestRoutingKey, s.cfg.RequestRoutingKey)
	assert.Equal(t, DefaultResultRoutingKey, s.cfg.ResultRoutingKey)
	assert.Equal(t, 6, s.cfg.Prefetch)
	assert.NoError(t, s.Stop())
}
