package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gardenio/irrigationd/internal/scheduler"
	"github.com/gardenio/irrigationd/pkg/mqtt"
)

type Config struct {
	Zone     string
	MotorPin int
	LightPin int // negative disables the indicator light
	DryRun   bool

	Duration   time.Duration
	Interval   time.Duration
	TickPeriod time.Duration
	Anchor     scheduler.Anchor

	StatusPeriod time.Duration
	HTTPPort     int

	Broker          mqtt.Config
	StateTopicTmpl  string
	StatusTopicTmpl string
	BreakerFailures int
	BreakerOpenFor  time.Duration
}

func loadConfig() Config {
	return Config{
		Zone:     envStr("ZONE", "zone1"),
		MotorPin: envInt("MOTOR_PIN", 14),
		LightPin: envInt("LIGHT_PIN", 2),
		DryRun:   envBool("DRY_RUN", false),

		Duration:   envDur("WATERING_DURATION", 10*time.Minute),
		Interval:   envDur("WATERING_INTERVAL", 8*time.Hour),
		TickPeriod: envDur("TICK_PERIOD", time.Second),
		Anchor:     scheduler.Anchor(envStr("SCHEDULE_ANCHOR", string(scheduler.AnchorStop))),

		StatusPeriod: envDur("STATUS_PERIOD", time.Hour),
		HTTPPort:     envInt("HTTP_PORT", 8080),

		Broker: mqtt.Config{
			Host:     envStr("MQTT_HOST", "localhost"),
			Port:     envInt("MQTT_PORT", 1883),
			User:     envStr("MQTT_USER", "guest"),
			Password: envStr("MQTT_PASSWORD", "guest"),
			ClientID: envStr("MQTT_CLIENT_ID", "irrigation-controller"),
		},
		StateTopicTmpl:  envStr("EVENT_STATE_TEMPLATE", "event/valveState/{zone}"),
		StatusTopicTmpl: envStr("EVENT_STATUS_TEMPLATE", "event/cycleStatus/{zone}"),
		BreakerFailures: envInt("BREAKER_FAILURES", 5),
		BreakerOpenFor:  envDur("BREAKER_OPEN_FOR", 30*time.Second),
	}
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid %s: %v", key, err)
		}
		return d
	}
	return def
}
