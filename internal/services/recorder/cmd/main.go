package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/gardenio/irrigationd/internal/services/recorder"
	"github.com/gardenio/irrigationd/pkg/dedup"
	"github.com/gardenio/irrigationd/pkg/mqtt"
)

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

func main() {
	cfg := struct {
		Broker mqtt.Config

		InfluxURL    string
		InfluxToken  string
		InfluxOrg    string
		InfluxBucket string

		StateTopic    string
		StatusTopic   string
		BatchSize     int
		FlushInterval time.Duration

		HTTPPort      int
		ShutdownGrace time.Duration
	}{
		Broker: mqtt.Config{
			Host:     envStr("MQTT_HOST", "localhost"),
			Port:     envInt("MQTT_PORT", 1883),
			User:     envStr("MQTT_USER", "guest"),
			Password: envStr("MQTT_PASSWORD", "guest"),
			ClientID: envStr("HOSTNAME", "irrigation-recorder"),
		},

		InfluxURL:    envStr("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "garden"),
		InfluxBucket: envStr("INFLUX_BUCKET", "events"),

		StateTopic:    envStr("EVENT_STATE_TOPIC", "event/valveState/#"),
		StatusTopic:   envStr("EVENT_STATUS_TOPIC", "event/cycleStatus/#"),
		BatchSize:     envInt("WRITE_BATCH_SIZE", 10),
		FlushInterval: time.Duration(envInt("WRITE_FLUSH_INTERVAL_MS", 200)) * time.Millisecond,

		HTTPPort:      envInt("HTTP_PORT", 8081),
		ShutdownGrace: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- InfluxDB ----
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	influx := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	defer influx.Close()
	writeAPI := influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket)
	writer := recorder.NewWriter(writeAPI)

	// ---- MQTT ----
	client, err := mqtt.NewConn(ctx, &cfg.Broker)
	if err != nil {
		log.Fatalf("mqtt connect: %v", err)
	}

	// ---- Consumer ----
	h := recorder.NewHandler(func(evt recorder.CommonEvent) {
		writeAPI.WritePoint(recorder.EventToPoint(evt))
		writer.MarkIngest(evt.EventType)
	})

	// valve events arrive at QoS 1; drop redeliveries by payload hash
	d := dedup.New(10*time.Minute, 20000)
	consumer := mqtt.NewConsumer(client, map[string]byte{
		cfg.StateTopic:  1,
		cfg.StatusTopic: 0,
	}, func(topic string, m paho.Message) error {
		if strings.HasPrefix(m.Topic(), "event/valveState/") && d.Seen(dedup.Key(m.Payload())) {
			return nil
		}
		return h.Handle(topic, m)
	})
	go func() {
		if err := consumer.ConsumeMessage(ctx); err != nil {
			log.Fatalf("recorder: %v", err)
		}
	}()

	// ---- HTTP ----
	mux := http.NewServeMux()
	mux.Handle("/healthz", recorder.NewHealthHandler(client, influx, writer))
	mux.Handle("/readyz", recorder.NewReadyHandler(client, influx, writer, 2*time.Second))
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("recorder: HTTP listening on :%d", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// ---- Wait for signal ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	log.Printf("recorder: shutting down...")
	cancel()

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shCancel()
	_ = hs.Shutdown(shCtx)

	// let the write buffer flush
	time.Sleep(cfg.FlushInterval + 100*time.Millisecond)
}
