package queue

import "time"

// reconnectBackoff spaces out retries after a failed queue read: it starts
// at base, doubles on each consecutive failure and stays at max.
type reconnectBackoff struct {
	base time.Duration
	max  time.Duration
}

func defaultReconnectBackoff() reconnectBackoff {
	return reconnectBackoff{base: 500 * time.Millisecond, max: 30 * time.Second}
}

// delay returns the wait before retry number failures (0-based).
func (b reconnectBackoff) delay(failures int) time.Duration {
	d := b.base
	for i := 0; i < failures; i++ {
		if d >= b.max/2 {
			return b.max
		}
		d *= 2
	}
	if d > b.max {
		return b.max
	}
	return d
}
