package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"qa-pipeline/internal/queue"
)

// Consumer is the receiving side of a work queue.
type Consumer interface {
	Receive(ctx context.Context, max int) ([]queue.Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	Nack(ctx context.Context, receiptHandle string, cause error) error
}

// StatsSource reports queue depth.
type StatsSource interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

type Processor interface {
	Process(ctx context.Context, body string, receiveCount int) error
}

// WorkerPoolConfig holds configuration options for the worker pool.
type WorkerPoolConfig struct {
	// WorkerCount is the number of concurrent consumers. Defaults to 1.
	WorkerCount int
	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration
	// StatsInterval controls queue depth reporting; zero disables it.
	StatsInterval time.Duration
}

func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:   2,
		PollInterval:  time.Second,
		StatsInterval: 15 * time.Second,
	}
}

// WorkerPool runs a fixed number of goroutines that each receive one
// message at a time, process it and acknowledge it on success.
type WorkerPool struct {
	consumer  Consumer
	processor Processor
	config    WorkerPoolConfig
	logger    *slog.Logger

	onDepth func(queue.Stats)

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorkerPool(consumer Consumer, processor Processor, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker_pool")
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		consumer:  consumer,
		processor: processor,
		config:    config,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnQueueDepth registers a callback for periodic queue statistics. It only
// has an effect when the consumer implements StatsSource.
func (p *WorkerPool) OnQueueDepth(fn func(queue.Stats)) {
	p.onDepth = fn
}

func (p *WorkerPool) Start() {
	p.logger.Info("starting worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	if src, ok := p.consumer.(StatsSource); ok && p.onDepth != nil && p.config.StatsInterval > 0 {
		p.wg.Add(1)
		go p.reportDepth(src)
	}
}

// Stop cancels in-flight work and waits for every worker to exit.
// Unacknowledged messages are redelivered after their visibility timeout.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	log := p.logger.With("worker_id", id)
	for {
		if p.ctx.Err() != nil {
			return
		}
		msgs, err := p.consumer.Receive(p.ctx, 1)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Error("receive failed", "error", err)
			p.wait()
			continue
		}
		if len(msgs) == 0 {
			p.wait()
			continue
		}
		for _, m := range msgs {
			p.handle(log, m)
		}
	}
}

func (p *WorkerPool) handle(log *slog.Logger, m queue.Message) {
	log = log.With("message_id", m.ID, "receive_count", m.ReceiveCount)
	if err := p.process(m); err != nil {
		if nackErr := p.consumer.Nack(p.ctx, m.ReceiptHandle, err); nackErr != nil {
			log.Warn("failed to record processing failure", "error", nackErr)
		}
		return
	}
	if err := p.consumer.Delete(p.ctx, m.ReceiptHandle); err != nil {
		if errors.Is(err, queue.ErrStaleReceipt) {
			log.Warn("message was redelivered before acknowledgement")
			return
		}
		log.Error("acknowledge failed", "error", err)
	}
}

func (p *WorkerPool) process(m queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: panic processing message %s: %v", m.ID, r)
			p.logger.Error("recovered from panic", "message_id", m.ID, "panic", r)
		}
	}()
	return p.processor.Process(p.ctx, m.Body, m.ReceiveCount)
}

func (p *WorkerPool) reportDepth(src StatsSource) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.StatsInterval)
	defer ticker.Stop()
	for {
		if s, err := src.Stats(p.ctx); err == nil {
			p.onDepth(s)
		} else if p.ctx.Err() == nil {
			p.logger.Warn("queue stats failed", "error", err)
		}
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *WorkerPool) wait() {
	t := time.NewTimer(p.config.PollInterval)
	defer t.Stop()
	select {
	case <-p.ctx.Done():
	case <-t.C:
	}
}
