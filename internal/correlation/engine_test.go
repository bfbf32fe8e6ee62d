package correlation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MLidstrom/Castellan-sub000/internal/signals"
	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

func authEvent(eventID int, actor string, ts time.Time) *models.RawEvent {
	return &models.RawEvent{
		RecordID:  fmt.Sprintf("%s-%d-%d", actor, eventID, ts.UnixNano()),
		Channel:   "Security",
		EventID:   eventID,
		Actor:     actor,
		Hostname:  "ws1",
		Timestamp: ts,
	}
}

// testEngine returns an engine whose clock follows the *clock variable.
func testEngine(th Thresholds) (*Engine, *time.Time) {
	clock := time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC) // Tuesday
	e := New(Config{
		Window:     5 * time.Minute,
		Thresholds: th,
		Now:        func() time.Time { return clock },
	}, nil)
	return e, &clock
}

func TestAnalyzeEventNilIsNoop(t *testing.T) {
	e, _ := testEngine(DefaultThresholds())
	if c := e.AnalyzeEvent(nil, nil); c != nil {
		t.Fatalf("expected nil for nil event, got %+v", c)
	}
	if e.Correlations().Len() != 0 {
		t.Fatalf("nil event must not touch the store")
	}
}

func TestBenignEventPassesThrough(t *testing.T) {
	e, clock := testEngine(DefaultThresholds())

	ev := authEvent(4624, "alice", *clock)
	base := &models.BaseFinding{
		EventType:  "Successful Logon",
		Risk:       models.RiskLow,
		Confidence: 40,
		Summary:    "alice logged on",
	}

	if c := e.AnalyzeEvent(ev, base); c != nil {
		t.Fatalf("expected pass-through for a first benign event, got %+v", c)
	}
	if e.Correlations().Len() != 0 {
		t.Fatalf("pass-through must not store a correlation")
	}
}

func TestBruteForceStreamingAndBatch(t *testing.T) {
	e, clock := testEngine(DefaultThresholds())
	start := *clock

	// Six failed logons for alice within 90 seconds.
	events := make([]*models.RawEvent, 0, 7)
	for i := 0; i < 6; i++ {
		ev := authEvent(4625, "alice", start.Add(time.Duration(i)*15*time.Second))
		events = append(events, ev)
		*clock = ev.Timestamp
		e.AnalyzeEvent(ev, nil)
	}

	// Then one success.
	success := authEvent(4624, "alice", start.Add(90*time.Second))
	events = append(events, success)
	*clock = success.Timestamp

	base := &models.BaseFinding{
		EventType:  "Successful Logon",
		Risk:       models.RiskLow,
		Confidence: 40,
		Summary:    "alice logged on",
	}
	c := e.AnalyzeEvent(success, base)
	if c == nil {
		t.Fatalf("expected the success after a failure burst to be enhanced")
	}
	if c.Risk < models.RiskHigh {
		t.Fatalf("expected at least high risk, got %s", c.Risk)
	}
	if c.Type != models.CorrelationBruteForce {
		t.Fatalf("unexpected correlation type %s", c.Type)
	}
	if c.Confidence <= base.Confidence/100 {
		t.Fatalf("enhancement must raise confidence, got %f", c.Confidence)
	}
	if len(c.EventIDs) != 7 {
		t.Fatalf("expected all 7 contributing events, got %d", len(c.EventIDs))
	}
	if c.Metadata["rule_id"] != "brute-force-auth" {
		t.Fatalf("unexpected rule id %q", c.Metadata["rule_id"])
	}
	if got, ok := e.Correlations().Get(c.ID); !ok || got != c {
		t.Fatalf("enhanced correlation must be stored")
	}

	// A batch pass over the same events finds the attack chain.
	batch := e.AnalyzeBatch(context.Background(), events, 5*time.Minute)
	chains := 0
	for _, bc := range batch {
		if bc.Type != models.CorrelationAttackChain {
			continue
		}
		chains++
		if bc.Pattern != "Brute Force Attack" {
			t.Fatalf("unexpected chain pattern %q", bc.Pattern)
		}
	}
	if chains != 1 {
		t.Fatalf("expected exactly 1 attack chain, got %d", chains)
	}
}

func TestEnhanceNeverLowersRiskOrConfidence(t *testing.T) {
	th := DefaultThresholds()
	th.Override = true
	e, clock := testEngine(th)

	ev := authEvent(4624, "alice", *clock)
	base := &models.BaseFinding{
		EventType:  "Successful Logon",
		Risk:       models.RiskCritical,
		Confidence: 100,
		Summary:    "already critical",
	}

	c := e.AnalyzeEvent(ev, base)
	if c == nil {
		t.Fatalf("override must force fusion")
	}
	if c.Risk != models.RiskCritical {
		t.Fatalf("enhancement must never lower risk, got %s", c.Risk)
	}
	if c.Confidence != 1.0 {
		t.Fatalf("confidence is capped at 1.0, got %f", c.Confidence)
	}
	if c.Metadata["base_event_type"] != "Successful Logon" {
		t.Fatalf("unexpected metadata %v", c.Metadata)
	}
}

func TestSynthesizeWithoutBaseFinding(t *testing.T) {
	th := DefaultThresholds()
	th.Override = true
	e, clock := testEngine(th)

	ev := authEvent(4688, "alice", *clock)
	c := e.AnalyzeEvent(ev, nil)
	if c == nil {
		t.Fatalf("override must force synthesis")
	}
	if c.Metadata["synthesized"] != "true" {
		t.Fatalf("expected synthesized marker, got %v", c.Metadata)
	}
	// First-seen key only: evidence 0.2, confidence 50 + 20*0.2.
	if c.Confidence != 0.54 {
		t.Fatalf("expected confidence 0.54, got %f", c.Confidence)
	}
	if c.Risk != models.RiskLow {
		t.Fatalf("weak evidence must stay low risk, got %s", c.Risk)
	}
}

func TestSynthesizedConfidenceCapsAt95(t *testing.T) {
	e, clock := testEngine(DefaultThresholds())
	// Tuesday 23:30, well outside working hours.
	start := time.Date(2026, 6, 2, 23, 30, 0, 0, time.UTC)

	var c *models.Correlation
	for i := 0; i < 15; i++ {
		ev := authEvent(4688, "alice", start.Add(time.Duration(i)*500*time.Millisecond))
		*clock = ev.Timestamp
		c = e.AnalyzeEvent(ev, nil)
	}
	if c == nil {
		t.Fatalf("expected a correlation from a dense off-hours burst")
	}
	if c.Confidence != 0.95 {
		t.Fatalf("expected capped confidence 0.95, got %f", c.Confidence)
	}
	if c.Risk != models.RiskCritical {
		t.Fatalf("expected critical risk, got %s", c.Risk)
	}
}

func TestAnalyzeBatchHonorsCancellation(t *testing.T) {
	e, clock := testEngine(DefaultThresholds())
	start := *clock

	events := make([]*models.RawEvent, 0, 10)
	for i := 0; i < 10; i++ {
		events = append(events, authEvent(4625, "alice", start.Add(time.Duration(i)*time.Second)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := e.AnalyzeBatch(ctx, events, time.Minute); len(got) != 0 {
		t.Fatalf("expected no work under a cancelled context, got %d", len(got))
	}
	if e.Correlations().Len() != 0 {
		t.Fatalf("cancelled batch must not store correlations")
	}
}

type panicStrategy struct{}

func (panicStrategy) Score(*models.RawEvent, signals.Scores) (float64, bool) { panic("model exploded") }
func (panicStrategy) Train([]*models.Correlation) error                     { return nil }

func TestAnalyzeEventRecoversFromStrategyPanic(t *testing.T) {
	e, clock := testEngine(DefaultThresholds())
	e.SetStrategy(panicStrategy{})

	ev := authEvent(4624, "alice", *clock)
	if c := e.AnalyzeEvent(ev, nil); c != nil {
		t.Fatalf("expected nil after recovered panic, got %+v", c)
	}
}

type recordingStrategy struct {
	trained []*models.Correlation
}

func (s *recordingStrategy) Score(*models.RawEvent, signals.Scores) (float64, bool) {
	return 0, false
}

func (s *recordingStrategy) Train(confirmed []*models.Correlation) error {
	s.trained = confirmed
	return nil
}

func TestTrainModelsForwardsToStrategy(t *testing.T) {
	e, _ := testEngine(DefaultThresholds())
	s := &recordingStrategy{}
	e.SetStrategy(s)

	confirmed := []*models.Correlation{{ID: "c1"}}
	if err := e.TrainModels(confirmed); err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(s.trained) != 1 || s.trained[0].ID != "c1" {
		t.Fatalf("strategy did not receive the confirmed correlations")
	}
}

func TestSetStrategyDuringAnalysis(t *testing.T) {
	e, clock := testEngine(DefaultThresholds())

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if i%2 == 0 {
				e.SetStrategy(&recordingStrategy{})
			} else {
				e.SetStrategy(nil)
			}
		}
	}()

	for i := 0; i < 500; i++ {
		e.AnalyzeEvent(authEvent(4624, fmt.Sprintf("user-%d", i), *clock), nil)
	}
	close(done)
	wg.Wait()
}
