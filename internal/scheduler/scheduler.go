// Package scheduler implements the watering state machine. A single
// goroutine owns the cycle state; timer expiries, external requests and
// snapshot reads all arrive as messages on its select loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gardenio/irrigationd/internal/model"
)

// Anchor selects how the spacing between cycles is measured.
type Anchor string

const (
	// AnchorStop spaces cycles from the end of the previous one: the next
	// start happens Interval after the previous stop.
	AnchorStop Anchor = "stop"
	// AnchorStart spaces cycle starts Interval apart regardless of Duration.
	AnchorStart Anchor = "start"
)

const defaultTickPeriod = time.Second

// Config is fixed for the process lifetime.
type Config struct {
	Zone       string
	Duration   time.Duration // how long a cycle keeps the valve open
	Interval   time.Duration // spacing between cycles, per Anchor
	TickPeriod time.Duration // accumulator granularity
	Anchor     Anchor
}

// Validate fills defaults and rejects configurations the state machine
// cannot run safely, in particular Duration >= Interval.
func (c *Config) Validate() error {
	if c.Zone == "" {
		c.Zone = "zone1"
	}
	if c.TickPeriod <= 0 {
		c.TickPeriod = defaultTickPeriod
	}
	if c.Anchor == "" {
		c.Anchor = AnchorStop
	}
	if c.Anchor != AnchorStop && c.Anchor != AnchorStart {
		return fmt.Errorf("unknown schedule anchor %q", c.Anchor)
	}
	if c.Duration <= 0 {
		return errors.New("watering duration must be positive")
	}
	if c.Interval <= 0 {
		return errors.New("watering interval must be positive")
	}
	if c.Duration >= c.Interval {
		return fmt.Errorf("watering duration %s must be shorter than interval %s", c.Duration, c.Interval)
	}
	return nil
}

// Actuator drives the valve (and any indicator) outputs.
type Actuator interface {
	Apply(on bool)
}

// Sink receives transition events. It runs on the scheduler goroutine and
// must not block.
type Sink func(model.ValveStateEvent)

// Snapshot is a read-only view of the cycle state.
type Snapshot struct {
	Zone         string
	Watering     bool
	Elapsed      time.Duration // accumulated toward the next start
	NextStartIn  time.Duration // zero when a start is due or overdue
	RemainingRun time.Duration // zero while idle
}

type command int

const (
	cmdStart command = iota
	cmdStop
)

// Scheduler owns the cycle state. All fields below cfg are touched only by
// the Run goroutine.
type Scheduler struct {
	cfg   Config
	clock Clock
	out   Actuator
	sink  Sink

	watering  bool
	elapsed   time.Duration
	startedAt time.Time
	cycle     Timer // one-shot duration timer, armed only while watering

	cmds  chan command
	snaps chan chan Snapshot
}

func New(cfg Config, clock Clock, out Actuator, sink Sink) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("actuator is nil")
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler{
		cfg:   cfg,
		clock: clock,
		out:   out,
		sink:  sink,
		cmds:  make(chan command, 4),
		snaps: make(chan chan Snapshot),
	}, nil
}

// Run drives the state machine until ctx is cancelled. The first cycle
// starts immediately; after that the tick accumulator and the duration timer
// trigger every transition. On return the outputs are low.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cycle = s.clock.NewTimer(s.cfg.Duration)
	if !s.cycle.Stop() {
		<-s.cycle.C()
	}
	tick := s.clock.NewTicker(s.cfg.TickPeriod)
	defer tick.Stop()

	s.start("startup")

	for {
		select {
		case <-ctx.Done():
			if s.watering {
				s.stop("shutdown")
			}
			return ctx.Err()
		case <-tick.C():
			s.onTick()
		case <-s.cycle.C():
			s.stop("duration")
		case cmd := <-s.cmds:
			switch cmd {
			case cmdStart:
				s.start("request")
			case cmdStop:
				s.stop("request")
			}
		case reply := <-s.snaps:
			reply <- s.snapshot()
		}
	}
}

// RequestStart asks for an out-of-band cycle start. A redundant request is
// dropped with a warning by the run loop, never queued.
func (s *Scheduler) RequestStart(ctx context.Context) error { return s.send(ctx, cmdStart) }

// RequestStop asks for an out-of-band cycle stop.
func (s *Scheduler) RequestStop(ctx context.Context) error { return s.send(ctx, cmdStop) }

func (s *Scheduler) send(ctx context.Context, c command) error {
	select {
	case s.cmds <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot reads the current cycle state through the run loop.
func (s *Scheduler) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case s.snaps <- reply:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (s *Scheduler) onTick() {
	if s.watering {
		if s.cfg.Anchor == AnchorStart {
			s.elapsed += s.cfg.TickPeriod
		}
		return
	}
	s.elapsed += s.cfg.TickPeriod
	if s.elapsed >= s.cfg.Interval {
		s.start("interval")
	}
}

func (s *Scheduler) start(trigger string) {
	if s.watering {
		log.Printf("WARN: zone %s: watering already in progress, ignoring start request (%s)", s.cfg.Zone, trigger)
		return
	}
	log.Printf("zone %s: starting watering cycle for %s (%s)", s.cfg.Zone, s.cfg.Duration, trigger)
	s.out.Apply(true)
	s.watering = true
	s.startedAt = s.clock.Now()
	if s.cfg.Anchor == AnchorStart {
		s.elapsed = 0
	}
	s.cycle.Reset(s.cfg.Duration)
	s.emit(model.StateOn, s.cfg.Duration, trigger)
}

func (s *Scheduler) stop(trigger string) {
	if !s.watering {
		log.Printf("WARN: zone %s: no watering in progress, ignoring stop request (%s)", s.cfg.Zone, trigger)
		return
	}
	log.Printf("zone %s: stopping watering cycle (%s)", s.cfg.Zone, trigger)
	s.out.Apply(false)
	s.watering = false
	if s.cfg.Anchor == AnchorStop {
		s.elapsed = 0
	}
	// Disarm and drain so a stale expiry cannot cut the next cycle short.
	if !s.cycle.Stop() {
		select {
		case <-s.cycle.C():
		default:
		}
	}
	s.emit(model.StateOff, 0, trigger)
}

func (s *Scheduler) snapshot() Snapshot {
	snap := Snapshot{
		Zone:        s.cfg.Zone,
		Watering:    s.watering,
		Elapsed:     s.elapsed,
		NextStartIn: clampDur(s.cfg.Interval - s.elapsed),
	}
	if s.watering {
		snap.RemainingRun = clampDur(s.cfg.Duration - s.clock.Now().Sub(s.startedAt))
	}
	return snap
}

func (s *Scheduler) emit(state model.ValveState, planned time.Duration, trigger string) {
	if s.sink == nil {
		return
	}
	s.sink(model.ValveStateEvent{
		Zone:      s.cfg.Zone,
		NewState:  state,
		Duration:  planned,
		Trigger:   trigger,
		Timestamp: s.clock.Now(),
	})
}

func clampDur(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
