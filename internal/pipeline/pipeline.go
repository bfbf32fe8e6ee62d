package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/MLidstrom/Castellan-sub000/internal/classify"
	"github.com/MLidstrom/Castellan-sub000/internal/correlation"
	inputredis "github.com/MLidstrom/Castellan-sub000/internal/input/redis"
	"github.com/MLidstrom/Castellan-sub000/internal/logger"
	"github.com/MLidstrom/Castellan-sub000/internal/transform/winevent"
	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// Pipeline consumes events from Redis, runs the streaming correlation path
// per event, runs the batch detectors on a schedule, and writes detected
// correlations.
type Pipeline struct {
	consumer   *inputredis.Consumer
	classifier classify.Classifier
	engine     *correlation.Engine
	writer     CorrelationWriter

	workers       int
	batchSize     int
	flushInterval time.Duration
	batchInterval time.Duration
	batchWindow   time.Duration

	mu     sync.Mutex
	buffer []*models.RawEvent
}

// Config controls pipeline behavior.
type Config struct {
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
	BatchInterval time.Duration // cadence of the batch detector pass
	BatchWindow   time.Duration // window handed to the batch detectors
}

// New creates a pipeline.
func New(consumer *inputredis.Consumer, classifier classify.Classifier, engine *correlation.Engine, writer CorrelationWriter, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = time.Minute
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 5 * time.Minute
	}
	if classifier == nil {
		classifier = classify.NoopClassifier{}
	}
	return &Pipeline{
		consumer:      consumer,
		classifier:    classifier,
		engine:        engine,
		writer:        writer,
		workers:       cfg.Workers,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		batchInterval: cfg.BatchInterval,
		batchWindow:   cfg.BatchWindow,
	}
}

// Run starts the pipeline loop and blocks until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Infof("Correlation pipeline started (workers=%d)", p.workers)

	msgCh := make(chan []byte, p.workers*4)
	corrCh := make(chan *models.Correlation, p.workers*4)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	var producerWg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		producerWg.Add(1)
		go func() {
			defer producerWg.Done()
			p.workerLoop(msgCh, corrCh)
		}()
	}

	producerWg.Add(1)
	go func() {
		defer producerWg.Done()
		p.batchLoop(ctx, corrCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.writeLoop(corrCh)
	}()

	<-ctx.Done()
	producerWg.Wait()
	close(corrCh)
	wg.Wait()
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *Pipeline) Close() error {
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			logger.Errorf("Failed to close correlation writer: %v", err)
		}
	}
	if p.consumer != nil {
		return p.consumer.Close()
	}
	return nil
}

func (p *Pipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		payload, err := p.consumer.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop redis message: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if payload == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) workerLoop(in <-chan []byte, out chan<- *models.Correlation) {
	for payload := range in {
		event, err := winevent.Parse(payload)
		if err != nil {
			logger.Warnf("Failed to parse event payload: %v", err)
			continue
		}

		base := p.classifier.Classify(event)
		if c := p.engine.AnalyzeEvent(event, base); c != nil {
			out <- c
		}

		p.mu.Lock()
		p.buffer = append(p.buffer, event)
		p.mu.Unlock()
	}
}

// batchLoop periodically drains the event buffer through the batch
// detectors. The snapshot is immutable from the detectors' point of view.
func (p *Pipeline) batchLoop(ctx context.Context, out chan<- *models.Correlation) {
	ticker := time.NewTicker(p.batchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snapshot := p.drainBuffer()
			if len(snapshot) == 0 {
				continue
			}
			for _, c := range p.engine.AnalyzeBatch(ctx, snapshot, p.batchWindow) {
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) drainBuffer() []*models.RawEvent {
	p.mu.Lock()
	snapshot := p.buffer
	p.buffer = nil
	p.mu.Unlock()
	return snapshot
}

func (p *Pipeline) writeLoop(in <-chan *models.Correlation) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	pending := make([]*models.Correlation, 0, p.batchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := p.writer.WriteCorrelations(pending); err != nil {
			logger.Errorf("Failed to write %d correlations: %v", len(pending), err)
		}
		pending = pending[:0]
	}

	for {
		select {
		case c, ok := <-in:
			if !ok {
				flush()
				return
			}
			pending = append(pending, c)
			if len(pending) >= p.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
