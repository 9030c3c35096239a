package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gardenio/irrigationd/internal/model"
)

type fakeActuator struct {
	mu     sync.Mutex
	on     bool
	levels []bool
}

func (f *fakeActuator) Apply(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = on
	f.levels = append(f.levels, on)
}

func (f *fakeActuator) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func (f *fakeActuator) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.levels)
}

type fakeTimer struct {
	ch        chan time.Time
	armed     bool
	remaining time.Duration
}

func (f *fakeTimer) C() <-chan time.Time { return f.ch }

func (f *fakeTimer) Stop() bool {
	was := f.armed
	f.armed = false
	return was
}

func (f *fakeTimer) Reset(d time.Duration) bool {
	was := f.armed
	f.armed = true
	f.remaining = d
	return was
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	return &fakeTimer{ch: make(chan time.Time, 1), armed: true, remaining: d}
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker { panic("not used in handler tests") }

type eventLog struct {
	mu     sync.Mutex
	events []model.ValveStateEvent
}

func (e *eventLog) sink(evt model.ValveStateEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *eventLog) count(state model.ValveState) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt.NewState == state {
			n++
		}
	}
	return n
}

func newTestScheduler(t *testing.T, cfg Config, sink Sink) (*Scheduler, *fakeActuator, *fakeClock, *fakeTimer) {
	t.Helper()
	act := &fakeActuator{}
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s, err := New(cfg, clk, act, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tm := &fakeTimer{ch: make(chan time.Time, 1)}
	s.cycle = tm
	return s, act, clk, tm
}

// runFor advances the clock tick by tick, firing the duration timer at its
// deadline the way the run loop would, and checks the actuator mirrors the
// watering flag after every step.
func runFor(t *testing.T, s *Scheduler, act *fakeActuator, clk *fakeClock, tm *fakeTimer, total time.Duration) {
	t.Helper()
	ticks := int(total / s.cfg.TickPeriod)
	for i := 0; i < ticks; i++ {
		clk.now = clk.now.Add(s.cfg.TickPeriod)
		if tm.armed {
			tm.remaining -= s.cfg.TickPeriod
			if tm.remaining <= 0 {
				tm.armed = false
				s.stop("duration")
			}
		}
		s.onTick()
		if act.On() != s.watering {
			t.Fatalf("tick %d: actuator level %v does not mirror watering %v", i, act.On(), s.watering)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults filled", cfg: Config{Duration: 10 * time.Minute, Interval: 8 * time.Hour}},
		{name: "explicit anchor start", cfg: Config{Duration: time.Minute, Interval: 6 * time.Minute, Anchor: AnchorStart}},
		{name: "zero duration", cfg: Config{Interval: time.Hour}, wantErr: true},
		{name: "zero interval", cfg: Config{Duration: time.Minute}, wantErr: true},
		{name: "duration equals interval", cfg: Config{Duration: time.Hour, Interval: time.Hour}, wantErr: true},
		{name: "duration exceeds interval", cfg: Config{Duration: 2 * time.Hour, Interval: time.Hour}, wantErr: true},
		{name: "bad anchor", cfg: Config{Duration: time.Minute, Interval: time.Hour, Anchor: "midpoint"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if tt.cfg.TickPeriod <= 0 || tt.cfg.Zone == "" || tt.cfg.Anchor == "" {
					t.Fatalf("defaults not filled: %+v", tt.cfg)
				}
			}
		})
	}
}

// Scenario: duration 10min, interval 8h. The valve goes high at boot, low
// after 10 minutes, and high again once the interval has elapsed.
func TestCycleLifecycleStopAnchored(t *testing.T) {
	evts := &eventLog{}
	cfg := Config{Duration: 10 * time.Minute, Interval: 8 * time.Hour, TickPeriod: time.Second}
	s, act, clk, tm := newTestScheduler(t, cfg, evts.sink)

	s.start("startup")
	if !act.On() {
		t.Fatal("valve not energized at startup")
	}

	runFor(t, s, act, clk, tm, 10*time.Minute)
	if act.On() {
		t.Fatal("valve still energized after duration elapsed")
	}
	if got := evts.count(model.StateOn); got != 1 {
		t.Fatalf("starts = %d, want 1", got)
	}

	runFor(t, s, act, clk, tm, 8*time.Hour)
	if !act.On() {
		t.Fatal("valve not re-energized after interval elapsed")
	}
	if got := evts.count(model.StateOn); got != 2 {
		t.Fatalf("starts = %d, want 2", got)
	}
}

// Conservation, stop-anchored: duration 1min, interval 6min. Starts are
// spaced duration+interval apart, so a 30-minute window sees 5 of them.
func TestConservationStopAnchored(t *testing.T) {
	evts := &eventLog{}
	cfg := Config{Duration: time.Minute, Interval: 6 * time.Minute, TickPeriod: time.Second, Anchor: AnchorStop}
	s, act, clk, tm := newTestScheduler(t, cfg, evts.sink)

	s.start("startup")
	runFor(t, s, act, clk, tm, 30*time.Minute)

	if got := evts.count(model.StateOn); got != 5 {
		t.Fatalf("starts in 30min = %d, want 5", got)
	}
}

// Conservation, start-anchored: exactly one start per 6-minute window, ±1
// for boundary alignment at the end of the run.
func TestConservationStartAnchored(t *testing.T) {
	evts := &eventLog{}
	cfg := Config{Duration: time.Minute, Interval: 6 * time.Minute, TickPeriod: time.Second, Anchor: AnchorStart}
	s, act, clk, tm := newTestScheduler(t, cfg, evts.sink)

	s.start("startup")
	runFor(t, s, act, clk, tm, 30*time.Minute)

	if got := evts.count(model.StateOn); got < 5 || got > 6 {
		t.Fatalf("starts in 30min = %d, want 5 or 6", got)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	cfg := Config{Duration: 10 * time.Minute, Interval: 8 * time.Hour, TickPeriod: time.Second}
	s, act, clk, tm := newTestScheduler(t, cfg, nil)

	s.start("startup")
	runFor(t, s, act, clk, tm, 30*time.Second)
	remaining := tm.remaining
	writes := act.Writes()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	s.start("request")

	if got := strings.Count(buf.String(), "ignoring start request"); got != 1 {
		t.Fatalf("warnings = %d, want 1\nlog: %s", got, buf.String())
	}
	if act.Writes() != writes {
		t.Fatal("redundant start touched the actuator")
	}
	// The armed duration timer must not be re-armed by the redundant start.
	if tm.remaining != remaining {
		t.Fatalf("duration timer re-armed: remaining %s, want %s", tm.remaining, remaining)
	}
	if !tm.armed {
		t.Fatal("duration timer disarmed by redundant start")
	}
}

func TestStopWhileIdleIsIdempotent(t *testing.T) {
	cfg := Config{Duration: 10 * time.Minute, Interval: 8 * time.Hour, TickPeriod: time.Second}
	s, act, _, _ := newTestScheduler(t, cfg, nil)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	s.stop("request")

	if got := strings.Count(buf.String(), "ignoring stop request"); got != 1 {
		t.Fatalf("warnings = %d, want 1\nlog: %s", got, buf.String())
	}
	if act.Writes() != 0 {
		t.Fatal("redundant stop touched the actuator")
	}
	if s.watering {
		t.Fatal("redundant stop changed state")
	}
}

func TestSnapshotClampsAtZero(t *testing.T) {
	cfg := Config{Duration: 10 * time.Minute, Interval: 8 * time.Hour, TickPeriod: time.Second}
	s, _, clk, _ := newTestScheduler(t, cfg, nil)

	// A missed tick can leave the accumulator past the interval.
	s.elapsed = cfg.Interval + time.Second
	if snap := s.snapshot(); snap.NextStartIn != 0 {
		t.Fatalf("NextStartIn = %s, want 0", snap.NextStartIn)
	}

	s.start("startup")
	clk.now = clk.now.Add(cfg.Duration + time.Second)
	if snap := s.snapshot(); snap.RemainingRun != 0 {
		t.Fatalf("RemainingRun = %s, want 0", snap.RemainingRun)
	}
}

// Run loop end to end on the system clock: the first cycle starts
// immediately, stops after Duration, a new one starts after Interval, and
// cancellation drives the outputs low.
func TestRunLoop(t *testing.T) {
	cfg := Config{Duration: 50 * time.Millisecond, Interval: 250 * time.Millisecond, TickPeriod: 10 * time.Millisecond}
	act := &fakeActuator{}
	s, err := New(cfg, nil, act, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	waitFor := func(want bool, what string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			snap, err := s.Snapshot(ctx)
			if err == nil && snap.Watering == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %s", what)
	}

	waitFor(true, "first cycle to start")
	waitFor(false, "first cycle to stop")
	waitFor(true, "second cycle to start")

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if act.On() {
		t.Fatal("outputs still high after shutdown")
	}
}
