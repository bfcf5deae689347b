package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Monitor probes the backend health endpoint on a fixed interval and
// publishes online/offline transitions to subscribers. A single failed
// probe does not flip the state; the failure threshold absorbs blips.
type Monitor struct {
	client    *http.Client
	probeURL  string
	interval  time.Duration
	threshold int
	logger    *zerolog.Logger

	online   atomic.Bool
	failures int

	mu          sync.Mutex
	subscribers []chan bool
}

func NewMonitor(probeURL string, interval time.Duration, threshold int, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if threshold < 1 {
		threshold = 1
	}

	m := &Monitor{
		client:    &http.Client{Timeout: 5 * time.Second},
		probeURL:  probeURL,
		interval:  interval,
		threshold: threshold,
		logger:    logger,
	}
	// Optimistic start; the first probe corrects this almost immediately.
	m.online.Store(true)
	return m
}

// IsCurrentlyOnline is the synchronous point-in-time check.
func (m *Monitor) IsCurrentlyOnline() bool {
	return m.online.Load()
}

// Subscribe returns a channel receiving each online/offline transition.
// The channel is buffered; a slow subscriber drops intermediate flips
// rather than blocking the monitor.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 8)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// Start runs the probe loop until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info().Str("url", m.probeURL).Dur("interval", m.interval).Msg("connectivity monitor started")
	defer m.logger.Info().Msg("connectivity monitor stopped")

	m.step(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.step(ctx)
		}
	}
}

func (m *Monitor) step(ctx context.Context) {
	if m.probe(ctx) {
		m.failures = 0
		m.setOnline(true)
		return
	}

	m.failures++
	if m.failures >= m.threshold {
		m.setOnline(false)
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

func (m *Monitor) setOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	m.logger.Info().Bool("online", online).Msg("connectivity changed")

	m.mu.Lock()
	subs := append([]chan bool(nil), m.subscribers...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}
