package controller

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gardenio/irrigationd/internal/model"
	"github.com/gardenio/irrigationd/internal/scheduler"
)

// RunReporter logs and publishes the cycle status once per StatusPeriod
// until ctx is cancelled. It only reads scheduler state, never mutates it.
func (s *Service) RunReporter(ctx context.Context) {
	tick := time.NewTicker(s.cfg.StatusPeriod)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.report(ctx)
		}
	}
}

func (s *Service) report(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snap, err := s.sched.Snapshot(rctx)
	if err != nil {
		log.Printf("status: snapshot unavailable: %v", err)
		return
	}

	status := statusEvent(snap, time.Now().UTC())
	if status.Watering {
		log.Printf("status: zone %s watering, %s left in cycle", status.Zone, status.RemainingRun)
	} else {
		log.Printf("status: zone %s idle, next watering in %s", status.Zone, status.NextStartIn)
	}
	nextStartGauge.Set(status.NextStartIn.Seconds())

	payload, err := json.Marshal(status)
	if err != nil {
		log.Printf("marshal status event: %v", err)
		return
	}
	topic := expandTopic(s.cfg.StatusTopicTmpl, status.Zone)
	if _, err := s.cb.Execute(func() (any, error) {
		return nil, s.pub.PublishToQos(topic, 0, false, string(payload))
	}); err != nil {
		log.Printf("publish status: %v (breaker %s)", err, s.cb.State())
	}
}

// statusEvent derives the report payload from a snapshot. The scheduler
// already clamps the remaining times at zero.
func statusEvent(snap scheduler.Snapshot, now time.Time) model.CycleStatusEvent {
	return model.CycleStatusEvent{
		Zone:         snap.Zone,
		Watering:     snap.Watering,
		NextStartIn:  snap.NextStartIn,
		RemainingRun: snap.RemainingRun,
		Timestamp:    now,
	}
}
