package recorder

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/gardenio/irrigationd/internal/model"
)

const (
	stateTopicPrefix  = "event/valveState/"
	statusTopicPrefix = "event/cycleStatus/"
)

// CommonEvent is the normalized shape written to InfluxDB.
type CommonEvent struct {
	EventType     string // valve.state_change | cycle.status
	SourceService string
	Zone          string
	Severity      string // info|warning|error
	Fields        map[string]interface{}
	Timestamp     time.Time
}

// Handler turns broker messages into CommonEvents and hands them to the sink.
type Handler struct{ sink func(CommonEvent) }

func NewHandler(sink func(CommonEvent)) *Handler { return &Handler{sink: sink} }

func (h *Handler) Handle(_ string, m paho.Message) error {
	topic, payload := m.Topic(), m.Payload()

	var (
		evt CommonEvent
		err error
	)
	switch {
	case strings.HasPrefix(topic, stateTopicPrefix):
		evt, err = decodeValveState(topic, payload)
	case strings.HasPrefix(topic, statusTopicPrefix):
		evt, err = decodeCycleStatus(topic, payload)
	default:
		return nil // not ours
	}
	if err != nil {
		return err
	}
	if h.sink != nil {
		h.sink(evt)
	}
	return nil
}

func decodeValveState(topic string, payload []byte) (CommonEvent, error) {
	var e model.ValveStateEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return CommonEvent{}, err
	}
	zone := pickZone(topic, e.Zone, stateTopicPrefix)
	if zone == "" {
		return CommonEvent{}, errors.New("valveState: missing zone")
	}
	return CommonEvent{
		EventType:     "valve.state_change",
		SourceService: "irrigation-controller",
		Zone:          zone,
		Severity:      "info",
		Fields: map[string]interface{}{
			"new_state":  string(e.NewState),
			"duration_s": e.Duration.Seconds(),
			"trigger":    e.Trigger,
		},
		Timestamp: e.Timestamp,
	}, nil
}

func decodeCycleStatus(topic string, payload []byte) (CommonEvent, error) {
	var e model.CycleStatusEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return CommonEvent{}, err
	}
	zone := pickZone(topic, e.Zone, statusTopicPrefix)
	if zone == "" {
		return CommonEvent{}, errors.New("cycleStatus: missing zone")
	}
	return CommonEvent{
		EventType:     "cycle.status",
		SourceService: "irrigation-controller",
		Zone:          zone,
		Severity:      "info",
		Fields: map[string]interface{}{
			"watering":        e.Watering,
			"next_start_s":    e.NextStartIn.Seconds(),
			"remaining_run_s": e.RemainingRun.Seconds(),
		},
		Timestamp: e.Timestamp,
	}, nil
}

// pickZone prefers the payload's zone, falling back to topic "prefix/{zone}".
func pickZone(topic, zone, prefix string) string {
	if strings.TrimSpace(zone) != "" {
		return zone
	}
	rest := strings.TrimPrefix(topic, prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
