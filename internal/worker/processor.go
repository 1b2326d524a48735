package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lancamentos/internal/log"
)

// ProcessorConfig holds the polling intervals of the background loop.
type ProcessorConfig struct {
	// PollInterval is how often pending patches are retried (default: 30s)
	PollInterval time.Duration

	// RefreshInterval is how often the mirror is refreshed (default: 5m)
	RefreshInterval time.Duration
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:    30 * time.Second,
		RefreshInterval: 5 * time.Minute,
	}
}

// Processor runs ProcessPending and RefreshMirror on a schedule.
type Processor struct {
	worker *SyncWorker
	config ProcessorConfig
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewProcessor(worker *SyncWorker, config ProcessorConfig, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.Discard()
	}
	defaults := DefaultProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = defaults.RefreshInterval
	}
	return &Processor{
		worker: worker,
		config: config,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// Start begins the loop. Returns an error if already running.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Processor started",
		"poll_interval", p.config.PollInterval,
		"refresh_interval", p.config.RefreshInterval)
	return nil
}

// Stop signals the loop and waits for it to finish.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	refreshTicker := time.NewTicker(p.config.RefreshInterval)
	defer refreshTicker.Stop()

	p.refresh(ctx)
	p.poll(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.poll(ctx)
		case <-refreshTicker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Processor) poll(ctx context.Context) {
	n, err := p.worker.ProcessPending(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to process pending patches", log.FieldError, err)
		return
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "Pending patches forwarded", log.FieldCount, n)
	}
}

func (p *Processor) refresh(ctx context.Context) {
	if err := p.worker.RefreshMirror(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Failed to refresh mirror", log.FieldError, err)
	}
}
