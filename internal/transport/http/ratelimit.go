package http

import "time"

// sendLimiter caps how many messages a single connection may send per
// minute. It is only touched from the connection's read loop, so it
// needs no locking.
type sendLimiter struct {
	limit       int
	count       int
	windowStart time.Time
}

func newSendLimiter(limit int) *sendLimiter {
	return &sendLimiter{limit: limit}
}

func (l *sendLimiter) allow(now time.Time) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	if now.Sub(l.windowStart) >= time.Minute {
		l.windowStart = now
		l.count = 0
	}
	l.count++
	return l.count <= l.limit
}
