package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/ports"
	"go.uber.org/zap"
)

const drainTimeout = 30 * time.Second

// Service is the queue worker frontend: it consumes scan requests and publishes
// their results on the same exchange
type Service struct {
	cfg      config.AMQPConfig
	scanner  ports.MessageScanner
	defaults core.LayerConfig
	logger   *zap.Logger

	mu           sync.Mutex
	client       *Client
	worker       *ScanWorker
	consumer     *Consumer
	stopConsumer context.CancelFunc
	stopWorkers  context.CancelFunc
}

// NewService creates the queue worker frontend
func NewService(cfg config.AMQPConfig, scanner ports.MessageScanner, defaults core.LayerConfig, logger *zap.Logger) *Service {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.RequestRoutingKey == "" {
		cfg.RequestRoutingKey = DefaultRequestRoutingKey
	}
	if cfg.ResultRoutingKey == "" {
		cfg.ResultRoutingKey = DefaultResultRoutingKey
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 2 * cfg.Workers
	}
	return &Service{
		cfg:      cfg,
		scanner:  scanner,
		defaults: defaults,
		logger:   logger,
	}
}

// Start connects, declares the topology and starts consuming
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := NewClient(s.cfg.URL, s.logger)
	if err != nil {
		return err
	}

	if err := NewTopologyManager(client, s.logger).Setup(s.cfg.Exchange, s.cfg.Queue, s.cfg.RequestRoutingKey); err != nil {
		client.Close()
		return fmt.Errorf("failed to setup AMQP topology: %w", err)
	}

	worker := NewScanWorker(
		s.scanner,
		NewPublisher(client, s.logger),
		validator.New(),
		s.defaults,
		WorkerOptions{
			Exchange:          s.cfg.Exchange,
			RequestRoutingKey: s.cfg.RequestRoutingKey,
			ResultRoutingKey:  s.cfg.ResultRoutingKey,
			Workers:           s.cfg.Workers,
			QueueSize:         s.cfg.Prefetch,
		},
		s.logger,
	)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	worker.Start(workerCtx)

	consumer := NewConsumer(client, worker, s.logger)
	consumeCtx, stopConsumer := context.WithCancel(context.Background())
	if err := consumer.Consume(consumeCtx, s.cfg.Queue, s.cfg.Prefetch); err != nil {
		stopConsumer()
		stopWorkers()
		client.Close()
		return err
	}

	s.client = client
	s.worker = worker
	s.consumer = consumer
	s.stopConsumer = stopConsumer
	s.stopWorkers = stopWorkers

	s.logger.Info("AMQP worker started",
		zap.String("queue", s.cfg.Queue),
		zap.Int("workers", s.cfg.Workers))
	return nil
}

// Stop stops consuming, drains in-flight scans and closes the connection
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}

	s.stopConsumer()
	<-s.consumer.Done()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	s.worker.Stop(ctx)
	cancel()
	s.stopWorkers()

	err := s.client.Close()
	s.client = nil
	return err
}
