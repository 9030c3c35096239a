package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gardenio/irrigationd/internal/gpio"
	"github.com/gardenio/irrigationd/internal/scheduler"
	"github.com/gardenio/irrigationd/internal/services/controller"
	"github.com/gardenio/irrigationd/pkg/mqtt"
)

type actuator interface {
	scheduler.Actuator
	Close() error
}

func main() {
	cfg := loadConfig()

	log.Printf("starting irrigation controller")
	log.Printf("  zone: %s", cfg.Zone)
	log.Printf("  motor pin: GPIO %d", cfg.MotorPin)
	log.Printf("  light pin: GPIO %d", cfg.LightPin)
	log.Printf("  watering duration: %s", cfg.Duration)
	log.Printf("  watering interval: %s", cfg.Interval)
	log.Printf("  schedule anchor: %s", cfg.Anchor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Actuator ----
	var out actuator
	if cfg.DryRun {
		log.Printf("dry run: GPIO disabled, logging output levels only")
		out = &gpio.Stub{Zone: cfg.Zone}
	} else {
		pins := []int{cfg.MotorPin}
		if cfg.LightPin >= 0 {
			pins = append(pins, cfg.LightPin)
		}
		p, err := gpio.Open(pins...)
		if err != nil {
			log.Fatalf("gpio init: %v", err)
		}
		out = p
	}
	defer out.Close()

	// ---- MQTT ----
	client, err := mqtt.NewConn(ctx, &cfg.Broker)
	if err != nil {
		log.Fatalf("mqtt connect: %v", err)
	}
	pub := mqtt.NewPublisher(client, "event/valveState/"+cfg.Zone)

	// ---- Service + scheduler ----
	svc := controller.New(controller.Config{
		StateTopicTmpl:  cfg.StateTopicTmpl,
		StatusTopicTmpl: cfg.StatusTopicTmpl,
		StatusPeriod:    cfg.StatusPeriod,
		BreakerFailures: uint32(cfg.BreakerFailures),
		BreakerOpenFor:  cfg.BreakerOpenFor,
	}, pub)

	sched, err := scheduler.New(scheduler.Config{
		Zone:       cfg.Zone,
		Duration:   cfg.Duration,
		Interval:   cfg.Interval,
		TickPeriod: cfg.TickPeriod,
		Anchor:     cfg.Anchor,
	}, nil, out, svc.Sink())
	if err != nil {
		log.Fatalf("scheduler init: %v", err)
	}
	svc.Attach(sched)

	errc := make(chan error, 1)
	go func() { errc <- sched.Run(ctx) }()
	go svc.Run(ctx)
	go svc.RunReporter(ctx)

	// ---- HTTP (metrics + health) ----
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("controller: HTTP listening on :%d", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	log.Printf("irrigation controller initialized")

	// ---- Wait for signal or scheduler exit ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigc:
		log.Println("shutting down...")
		cancel()
		<-errc // scheduler drives the outputs low before returning
	case err := <-errc:
		log.Printf("scheduler exited: %v", err)
		cancel()
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = hs.Shutdown(shCtx)

	// allow in-flight publishes to drain
	time.Sleep(300 * time.Millisecond)
}
