package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irrigation_cycles_started_total",
		Help: "Watering cycles started since boot.",
	})
	cyclesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irrigation_cycles_completed_total",
		Help: "Watering cycles stopped since boot.",
	})
	wateringGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "irrigation_watering",
		Help: "1 while the valve is energized.",
	})
	nextStartGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "irrigation_next_start_seconds",
		Help: "Seconds until the next scheduled cycle start.",
	})
	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irrigation_events_dropped_total",
		Help: "Telemetry events dropped because the queue was full or the broker unavailable.",
	})
)
