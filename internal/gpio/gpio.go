// Package gpio drives the actuator pins on a Raspberry Pi.
package gpio

import (
	"fmt"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// Pins drives a set of BCM output pins as one actuator: the motor/valve
// driver and, optionally, an indicator light.
type Pins struct {
	pins []rpio.Pin
}

// Open memory-maps the GPIO range and configures every pin as an output,
// initialized low. Any failure here is a fatal configuration error for the
// caller.
func Open(bcm ...int) (*Pins, error) {
	if len(bcm) == 0 {
		return nil, fmt.Errorf("no output pins configured")
	}
	for _, n := range bcm {
		if n < 0 {
			return nil, fmt.Errorf("invalid BCM pin %d", n)
		}
	}
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	p := &Pins{pins: make([]rpio.Pin, 0, len(bcm))}
	for _, n := range bcm {
		pin := rpio.Pin(n)
		pin.Output()
		pin.Low()
		p.pins = append(p.pins, pin)
	}
	return p, nil
}

// Apply sets every configured pin high or low.
func (p *Pins) Apply(on bool) {
	for _, pin := range p.pins {
		if on {
			pin.High()
		} else {
			pin.Low()
		}
	}
}

// Close drives every pin low and unmaps the GPIO range.
func (p *Pins) Close() error {
	p.Apply(false)
	return rpio.Close()
}
