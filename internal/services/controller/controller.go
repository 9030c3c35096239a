// Package controller wires the watering scheduler to the actuator pins and
// the telemetry plane: valve events over MQTT behind a circuit breaker, a
// periodic status report, and Prometheus metrics.
package controller

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gardenio/irrigationd/internal/model"
	"github.com/gardenio/irrigationd/internal/scheduler"
	"github.com/gardenio/irrigationd/pkg/mqtt"
)

const (
	defaultStateTopicTmpl  = "event/valveState/{zone}"
	defaultStatusTopicTmpl = "event/cycleStatus/{zone}"
	defaultStatusPeriod    = time.Hour
)

type Config struct {
	StateTopicTmpl  string
	StatusTopicTmpl string
	StatusPeriod    time.Duration

	BreakerFailures uint32
	BreakerOpenFor  time.Duration
}

// Service pumps scheduler transitions out to the broker and reports status.
type Service struct {
	cfg   Config
	sched *scheduler.Scheduler
	pub   mqtt.IPublisher
	cb    *gobreaker.CircuitBreaker

	events chan model.ValveStateEvent
}

func New(cfg Config, pub mqtt.IPublisher) *Service {
	if cfg.StateTopicTmpl == "" {
		cfg.StateTopicTmpl = defaultStateTopicTmpl
	}
	if cfg.StatusTopicTmpl == "" {
		cfg.StatusTopicTmpl = defaultStatusTopicTmpl
	}
	if cfg.StatusPeriod <= 0 {
		cfg.StatusPeriod = defaultStatusPeriod
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	return &Service{
		cfg:    cfg,
		pub:    pub,
		cb:     newBreaker("mqtt-publish", cfg.BreakerFailures, cfg.BreakerOpenFor),
		events: make(chan model.ValveStateEvent, 16),
	}
}

// Attach hands the service the scheduler it reports on. Must be called
// before RunReporter.
func (s *Service) Attach(sched *scheduler.Scheduler) { s.sched = sched }

// Sink returns the transition sink handed to the scheduler. It never
// blocks: when the pump falls behind, events are dropped and counted.
func (s *Service) Sink() scheduler.Sink {
	return func(evt model.ValveStateEvent) {
		switch evt.NewState {
		case model.StateOn:
			cyclesStartedTotal.Inc()
			wateringGauge.Set(1)
		case model.StateOff:
			cyclesCompletedTotal.Inc()
			wateringGauge.Set(0)
		}
		select {
		case s.events <- evt:
		default:
			eventsDroppedTotal.Inc()
			log.Printf("WARN: event queue full, dropping %s event for zone %s", evt.NewState, evt.Zone)
		}
	}
}

// Run drains the event queue and publishes until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-s.events:
			s.publishState(evt)
		}
	}
}

func (s *Service) publishState(evt model.ValveStateEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("marshal state event: %v", err)
		return
	}
	topic := expandTopic(s.cfg.StateTopicTmpl, evt.Zone)
	if _, err := s.cb.Execute(func() (any, error) {
		return nil, s.pub.PublishToQos(topic, 1, false, string(payload))
	}); err != nil {
		eventsDroppedTotal.Inc()
		log.Printf("publish state event: %v (breaker %s)", err, s.cb.State())
	}
}

func newBreaker(name string, fails uint32, openFor time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
	})
}

func expandTopic(tmpl, zone string) string {
	return strings.ReplaceAll(tmpl, "{zone}", zone)
}
