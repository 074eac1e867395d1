package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mikey/llm-phish-scanner/internal/adapters/filter"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/ports"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const jobTimeout = 2 * time.Minute

// ScanRequestedMessage asks the worker to scan one message
type ScanRequestedMessage struct {
	RequestID   string           `json:"requestId" validate:"required,max=128"`
	Message     filter.ScanInput `json:"message"`
	RequestedAt time.Time        `json:"requestedAt"`
}

// ScanCompletedMessage carries the result of a requested scan
type ScanCompletedMessage struct {
	RequestID   string           `json:"requestId"`
	MessageID   string           `json:"messageId,omitempty"`
	Result      *core.ScanResult `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	CompletedAt time.Time        `json:"completedAt"`
}

// ResultPublisher publishes scan results
type ResultPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, message interface{}) error
}

// WorkerOptions configures a ScanWorker
type WorkerOptions struct {
	Exchange          string
	RequestRoutingKey string
	ResultRoutingKey  string
	Workers           int
	QueueSize         int
}

type scanJob struct {
	request  ScanRequestedMessage
	delivery *amqp.Delivery
}

// ScanWorker validates scan requests and runs them on a bounded pool of workers.
// A delivery is acknowledged once its result has been published.
type ScanWorker struct {
	scanner   ports.MessageScanner
	publisher ResultPublisher
	validate  *validator.Validate
	defaults  core.LayerConfig
	opts      WorkerOptions
	logger    *zap.Logger
	jobQueue  chan scanJob
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewScanWorker creates a worker pool; Start must be called before deliveries arrive
func NewScanWorker(
	scanner ports.MessageScanner,
	publisher ResultPublisher,
	validate *validator.Validate,
	defaults core.LayerConfig,
	opts WorkerOptions,
	logger *zap.Logger,
) *ScanWorker {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers
	}
	if opts.RequestRoutingKey == "" {
		opts.RequestRoutingKey = DefaultRequestRoutingKey
	}
	if opts.ResultRoutingKey == "" {
		opts.ResultRoutingKey = DefaultResultRoutingKey
	}
	return &ScanWorker{
		scanner:   scanner,
		publisher: publisher,
		validate:  validate,
		defaults:  defaults,
		opts:      opts,
		logger:    logger,
		jobQueue:  make(chan scanJob, opts.QueueSize),
		now:       time.Now,
	}
}

// Start launches the worker pool
func (w *ScanWorker) Start(ctx context.Context) {
	for i := range w.opts.Workers {
		w.wg.Add(1)
		go w.worker(ctx, i)
	}
	w.logger.Info("Started scan workers", zap.Int("workers", w.opts.Workers))
}

// Stop closes the queue and waits for the workers to drain it or for ctx to expire.
// Handle must not be called after Stop.
func (w *ScanWorker) Stop(ctx context.Context) {
	close(w.jobQueue)

	workersDone := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
		w.logger.Info("Scan workers drained")
	case <-ctx.Done():
		w.logger.Warn("Scan workers did not drain before shutdown")
	}
}

func (w *ScanWorker) worker(ctx context.Context, id int) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Scan worker cancelled", zap.Int("worker", id))
			return
		case job, ok := <-w.jobQueue:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Handle validates a delivery and hands it to the pool.
// Invalid deliveries are rejected without requeue.
func (w *ScanWorker) Handle(ctx context.Context, delivery *amqp.Delivery) {
	if delivery.RoutingKey != w.opts.RequestRoutingKey {
		w.logger.Error("Unsupported routing key", zap.String("routing_key", delivery.RoutingKey))
		w.nack(delivery, false)
		return
	}

	request, err := w.decode(delivery.Body)
	if err != nil {
		w.logger.Error("Invalid scan request", zap.String("message_id", delivery.MessageId), zap.Error(err))
		w.nack(delivery, false)
		return
	}

	w.logger.Info("Received scan request",
		zap.String("request_id", request.RequestID),
		zap.Time("requested_at", request.RequestedAt))

	select {
	case w.jobQueue <- scanJob{request: request, delivery: delivery}:
	case <-ctx.Done():
		w.nack(delivery, true)
	}
}

func (w *ScanWorker) decode(body []byte) (ScanRequestedMessage, error) {
	var request ScanRequestedMessage
	if err := json.Unmarshal(body, &request); err != nil {
		return request, fmt.Errorf("failed to unmarshal scan request: %w", err)
	}
	if err := w.validate.Struct(request); err != nil {
		return request, fmt.Errorf("scan request validation failed: %w", err)
	}
	return request, nil
}

func (w *ScanWorker) process(ctx context.Context, job scanJob) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	completed := ScanCompletedMessage{RequestID: job.request.RequestID}

	msg, err := job.request.Message.Message()
	if err == nil {
		completed.MessageID = msg.ID
		completed.Result, err = w.scanner.ScanMessageWithLayers(ctx, msg, job.request.Message.Layers.Apply(w.defaults))
	}
	if err != nil {
		w.logger.Warn("Scan request failed",
			zap.String("request_id", job.request.RequestID),
			zap.Error(err))
		completed.Error = err.Error()
	}
	completed.CompletedAt = w.now()

	if err := w.publisher.Publish(ctx, w.opts.Exchange, w.opts.ResultRoutingKey, completed); err != nil {
		w.logger.Error("Failed to publish scan result",
			zap.String("request_id", job.request.RequestID),
			zap.Error(err))
		w.nack(job.delivery, true)
		return
	}

	if err := job.delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ack delivery", zap.Error(err))
	}
}

func (w *ScanWorker) nack(delivery *amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to nack delivery", zap.Error(err))
	}
}
