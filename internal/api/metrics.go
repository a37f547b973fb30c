package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime     time.Time
	requests      atomic.Int64
	serverErrors  atomic.Int64
	clientErrors  atomic.Int64
	docsWritten   atomic.Int64
	fetches       atomic.Int64
	batches       atomic.Int64
	subscriptions atomic.Int64
	pushedFrames  atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds       float64 `json:"uptime_seconds"`
	Requests            int64   `json:"requests"`
	ServerErrors        int64   `json:"server_errors"`
	ClientErrors        int64   `json:"client_errors"`
	DocumentsWritten    int64   `json:"documents_written"`
	Fetches             int64   `json:"fetches"`
	Batches             int64   `json:"batches"`
	ActiveSubscriptions int64   `json:"active_subscriptions"`
	PushedFrames        int64   `json:"pushed_frames"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordWrites adds n to the written documents counter.
func (m *Metrics) RecordWrites(n int64) {
	m.docsWritten.Add(n)
}

// RecordFetch increments the collection fetch counter.
func (m *Metrics) RecordFetch() {
	m.fetches.Add(1)
}

// RecordBatch increments the batch commit counter.
func (m *Metrics) RecordBatch() {
	m.batches.Add(1)
}

// SubscriptionOpened and SubscriptionClosed track live change feeds.
func (m *Metrics) SubscriptionOpened() { m.subscriptions.Add(1) }
func (m *Metrics) SubscriptionClosed() { m.subscriptions.Add(-1) }

// RecordPush increments the pushed frame counter.
func (m *Metrics) RecordPush() {
	m.pushedFrames.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:       time.Since(m.startTime).Seconds(),
		Requests:            m.requests.Load(),
		ServerErrors:        m.serverErrors.Load(),
		ClientErrors:        m.clientErrors.Load(),
		DocumentsWritten:    m.docsWritten.Load(),
		Fetches:             m.fetches.Load(),
		Batches:             m.batches.Load(),
		ActiveSubscriptions: m.subscriptions.Load(),
		PushedFrames:        m.pushedFrames.Load(),
	}
}
