package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/MLidstrom/Castellan-sub000/internal/corrstore"
	"github.com/MLidstrom/Castellan-sub000/internal/detectors"
	"github.com/MLidstrom/Castellan-sub000/internal/history"
	"github.com/MLidstrom/Castellan-sub000/internal/logger"
	"github.com/MLidstrom/Castellan-sub000/internal/metrics"
	"github.com/MLidstrom/Castellan-sub000/internal/rules"
	"github.com/MLidstrom/Castellan-sub000/internal/signals"
	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// Strategy is the extension point for a model-based scorer. Score returns
// false until a real model is plugged in; Train receives analyst-confirmed
// correlations.
type Strategy interface {
	Score(e *models.RawEvent, sc signals.Scores) (float64, bool)
	Train(confirmed []*models.Correlation) error
}

// NoopStrategy is the default: no model, no training.
type NoopStrategy struct{}

// Score reports that no model score is available.
func (NoopStrategy) Score(*models.RawEvent, signals.Scores) (float64, bool) { return 0, false }

// Train discards the confirmed correlations.
func (NoopStrategy) Train([]*models.Correlation) error { return nil }

// Config controls the engine.
type Config struct {
	Window            time.Duration // correlation window, also history retention
	SweepInterval     time.Duration // history sweep cadence
	CorrelationMaxAge time.Duration // correlation store TTL
	Thresholds        Thresholds
	Now               func() time.Time // injected clock; nil means time.Now
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.CorrelationMaxAge <= 0 {
		c.CorrelationMaxAge = 24 * time.Hour
	}
	zero := Thresholds{}
	if c.Thresholds == zero {
		c.Thresholds = DefaultThresholds()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine is the correlation engine facade: streaming fusion, batch pattern
// detection and the correlation store, behind explicit Start/Stop.
type Engine struct {
	cfg     Config
	history *history.Store
	catalog *rules.Catalog
	matcher *rules.Matcher
	store   *corrstore.Store
	now     func() time.Time

	strategyMu sync.RWMutex
	strategy   Strategy

	stop chan struct{}
	done chan struct{}
}

// New creates an engine over the given rule catalog. A nil catalog gets the
// built-in defaults.
func New(cfg Config, catalog *rules.Catalog) *Engine {
	cfg.applyDefaults()
	if catalog == nil {
		catalog = rules.DefaultCatalog()
	}
	hist := history.NewStore(history.Config{
		Retention:     cfg.Window,
		SweepInterval: cfg.SweepInterval,
	})
	hist.SetClock(cfg.Now)
	return &Engine{
		cfg:      cfg,
		history:  hist,
		catalog:  catalog,
		matcher:  rules.NewMatcher(catalog, hist),
		store:    corrstore.New(),
		strategy: NoopStrategy{},
		now:      cfg.Now,
	}
}

// Catalog returns the engine's rule catalog for runtime updates.
func (e *Engine) Catalog() *rules.Catalog { return e.catalog }

// Correlations returns the correlation store for queries.
func (e *Engine) Correlations() *corrstore.Store { return e.store }

// SetStrategy replaces the model strategy. Nil restores the no-op default.
// Safe to call while the engine is analyzing events.
func (e *Engine) SetStrategy(s Strategy) {
	if s == nil {
		s = NoopStrategy{}
	}
	e.strategyMu.Lock()
	e.strategy = s
	e.strategyMu.Unlock()
}

func (e *Engine) currentStrategy() Strategy {
	e.strategyMu.RLock()
	defer e.strategyMu.RUnlock()
	return e.strategy
}

// AnalyzeEvent is the streaming entry point: record the event, score it,
// match rules and fuse. Returns nil when no correlation is detected, when
// the event is nil, or when any internal failure occurs.
func (e *Engine) AnalyzeEvent(event *models.RawEvent, base *models.BaseFinding) (out *models.Correlation) {
	if event == nil {
		logger.Debugf("AnalyzeEvent called without an event")
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.AnalysisPanics.Inc()
			logger.Errorf("AnalyzeEvent recovered: %v (record_id=%s)", r, event.RecordID)
			out = nil
		}
	}()

	metrics.EventsProcessed.Inc()
	now := e.now()

	e.history.Record(event)
	sc := signals.Evaluate(e.history, event, now)
	if v, ok := e.currentStrategy().Score(event, sc); ok {
		// Model scores fold into the anomaly channel until a dedicated
		// fusion input exists.
		if v > sc.Anomaly {
			sc.Anomaly = clampScore(v)
		}
	}
	match := e.matcher.BestMatch(event, now)

	c := fuse(event, base, sc, match, e.cfg.Thresholds, now)
	if c == nil {
		logger.Debugf("No correlation for record_id=%s (corr=%.2f burst=%.2f anomaly=%.2f)",
			event.RecordID, sc.Correlation, sc.Burst, sc.Anomaly)
		return nil
	}

	if base != nil {
		metrics.FindingsEnhanced.Inc()
	} else {
		metrics.FindingsSynthesized.Inc()
	}
	metrics.CorrelationsDetected.WithLabelValues(string(c.Type)).Inc()
	e.store.Put(c)
	return c
}

// AnalyzeBatch is the batch entry point: run the three pattern detectors over
// an immutable event snapshot. Cancellation is honored between detector
// stages; a failing detector degrades to no results for that stage.
func (e *Engine) AnalyzeBatch(ctx context.Context, events []*models.RawEvent, window time.Duration) []*models.Correlation {
	metrics.BatchRuns.Inc()
	if window <= 0 {
		window = e.cfg.Window
	}
	now := e.now()
	out := make([]*models.Correlation, 0, 8)

	runStage(ctx, "temporal-burst", func() {
		for _, b := range detectors.DetectTemporalBursts(events, window) {
			out = append(out, detectors.BurstToCorrelation(b, now))
		}
	})
	if ctx.Err() != nil {
		return e.storeBatch(out)
	}

	runStage(ctx, "attack-chain", func() {
		for _, c := range detectors.DetectAttackChains(events, window) {
			out = append(out, detectors.ChainToCorrelation(c, now))
		}
	})
	if ctx.Err() != nil {
		return e.storeBatch(out)
	}

	runStage(ctx, "lateral-movement", func() {
		for _, l := range detectors.DetectLateralMovement(events, window) {
			out = append(out, detectors.LateralToCorrelation(l, now))
		}
	})

	return e.storeBatch(out)
}

// TrainModels forwards confirmed correlations to the model strategy.
func (e *Engine) TrainModels(confirmed []*models.Correlation) error {
	return e.currentStrategy().Train(confirmed)
}

// CleanupOlderThan evicts stored correlations older than maxAge.
func (e *Engine) CleanupOlderThan(maxAge time.Duration) int {
	return e.store.EvictOlderThan(maxAge, e.now())
}

// Start launches the history sweep and store eviction timers.
func (e *Engine) Start() {
	if e.stop != nil {
		return
	}
	e.history.Start()
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := e.CleanupOlderThan(e.cfg.CorrelationMaxAge); n > 0 {
					logger.Debugf("Evicted %d expired correlations", n)
				}
			case <-e.stop:
				return
			}
		}
	}()
	logger.Infof("Correlation engine started (window=%s sweep=%s)", e.cfg.Window, e.cfg.SweepInterval)
}

// Stop terminates the background timers.
func (e *Engine) Stop() {
	if e.stop == nil {
		return
	}
	close(e.stop)
	<-e.done
	e.stop = nil
	e.done = nil
	e.history.Stop()
	logger.Infof("Correlation engine stopped")
}

func (e *Engine) storeBatch(out []*models.Correlation) []*models.Correlation {
	for _, c := range out {
		e.store.Put(c)
		metrics.CorrelationsDetected.WithLabelValues(string(c.Type)).Inc()
	}
	return out
}

func runStage(ctx context.Context, name string, fn func()) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.AnalysisPanics.Inc()
			logger.Errorf("Batch detector %s recovered: %v", name, r)
		}
	}()
	fn()
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
