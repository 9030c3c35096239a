package recorder

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gardenio/irrigationd/internal/model"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestHandleValveState(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0).UTC()
	payload, _ := json.Marshal(model.ValveStateEvent{
		Zone:      "zone1",
		NewState:  model.StateOn,
		Duration:  10 * time.Minute,
		Trigger:   "interval",
		Timestamp: ts,
	})

	var got []CommonEvent
	h := NewHandler(func(evt CommonEvent) { got = append(got, evt) })

	msg := &fakeMessage{topic: "event/valveState/zone1", payload: payload}
	if err := h.Handle("", msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	evt := got[0]
	if evt.EventType != "valve.state_change" || evt.Zone != "zone1" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Fields["new_state"] != "on" {
		t.Fatalf("new_state = %v", evt.Fields["new_state"])
	}
	if evt.Fields["duration_s"] != 600.0 {
		t.Fatalf("duration_s = %v", evt.Fields["duration_s"])
	}
	if !evt.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v", evt.Timestamp, ts)
	}
}

func TestHandleZoneFromTopic(t *testing.T) {
	// No zone in the payload: the topic segment fills it in.
	payload := []byte(`{"watering":true,"next_start_in":0,"remaining_run":30000000000}`)
	var got []CommonEvent
	h := NewHandler(func(evt CommonEvent) { got = append(got, evt) })

	msg := &fakeMessage{topic: "event/cycleStatus/north", payload: payload}
	if err := h.Handle("", msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(got) != 1 || got[0].Zone != "north" {
		t.Fatalf("zone not picked from topic: %+v", got)
	}
	if got[0].Fields["watering"] != true {
		t.Fatalf("watering = %v", got[0].Fields["watering"])
	}
}

func TestHandleIgnoresForeignTopics(t *testing.T) {
	called := false
	h := NewHandler(func(CommonEvent) { called = true })

	msg := &fakeMessage{topic: "sensor/data/field1/s1", payload: []byte(`{}`)}
	if err := h.Handle("", msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if called {
		t.Fatal("sink invoked for a foreign topic")
	}
}

func TestHandleBadPayload(t *testing.T) {
	h := NewHandler(nil)
	msg := &fakeMessage{topic: "event/valveState/zone1", payload: []byte(`not json`)}
	if err := h.Handle("", msg); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestEventToPoint(t *testing.T) {
	evt := CommonEvent{
		EventType:     "valve.state_change",
		SourceService: "irrigation-controller",
		Zone:          "zone1",
		Severity:      "info",
		Fields:        map[string]interface{}{"new_state": "on"},
		Timestamp:     time.Unix(1_700_000_000, 0),
	}
	p := EventToPoint(evt)
	if p.Name() != "irrigation_event" {
		t.Fatalf("measurement = %q", p.Name())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["zone"] != "zone1" || tags["event_type"] != "valve.state_change" {
		t.Fatalf("unexpected tags: %v", tags)
	}
}
