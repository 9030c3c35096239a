package gpio

import "log"

// Stub is a log-only actuator for hosts without GPIO hardware (dry runs,
// development machines).
type Stub struct {
	Zone string
}

func (s *Stub) Apply(on bool) {
	level := 0
	if on {
		level = 1
	}
	log.Printf("gpio stub: zone %s outputs -> %d", s.Zone, level)
}

func (s *Stub) Close() error { return nil }
