package sync

import "time"

// Backoff yields exponentially growing delays between Min and Max.
type Backoff struct {
	Min, Max time.Duration
	next     time.Duration
}

// NewBackoff returns a backoff starting at initial and capped at limit.
func NewBackoff(initial, limit time.Duration) *Backoff {
	return &Backoff{Min: initial, Max: limit}
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.next == 0 {
		b.next = b.Min
	}
	d := b.next
	b.next = min(b.next*2, b.Max)
	return d
}

// Reset starts over at Min.
func (b *Backoff) Reset() {
	b.next = 0
}
