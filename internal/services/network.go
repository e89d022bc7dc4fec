package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

// OfflineThreshold is the number of consecutive failed probes before going offline.
const OfflineThreshold = 2

// Connectivity reports whether the network is reachable.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// NetworkMonitor tracks connectivity by probing a URL. Any HTTP response counts as reachable.
type NetworkMonitor struct {
	probeURL string
	client   *http.Client
	logger   *log.Logger

	mu       sync.Mutex
	online   bool
	failures int
	nextID   int
	subs     map[int]func(bool)
}

// NewNetworkMonitor starts in the online state.
func NewNetworkMonitor(probeURL string, client *http.Client, logger *log.Logger) *NetworkMonitor {
	if probeURL == "" {
		probeURL = discogsBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &NetworkMonitor{
		probeURL: probeURL,
		client:   client,
		logger:   logger,
		online:   true,
		subs:     make(map[int]func(bool)),
	}
}

func (m *NetworkMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline forces the state and notifies subscribers when it changes.
func (m *NetworkMonitor) SetOnline(online bool) {
	m.mu.Lock()
	m.failures = 0
	changed := m.online != online
	m.online = online
	subs := m.snapshot()
	m.mu.Unlock()

	if !changed {
		return
	}
	m.logger.Info("connectivity changed", "online", online)
	for _, fn := range subs {
		fn(online)
	}
}

// Check probes once and returns the resulting state.
func (m *NetworkMonitor) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err == nil {
		var resp *http.Response
		if resp, err = m.client.Do(req); err == nil {
			resp.Body.Close()
		}
	}
	if ctx.Err() != nil {
		return m.Online()
	}
	if err == nil {
		m.SetOnline(true)
		return true
	}

	m.mu.Lock()
	m.failures++
	offline := m.failures >= OfflineThreshold
	m.mu.Unlock()

	m.logger.Debug("connectivity probe failed", "err", err)
	if offline {
		m.SetOnline(false)
		return false
	}
	return m.Online()
}

// Watch probes every interval until ctx is done.
func (m *NetworkMonitor) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *NetworkMonitor) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

func (m *NetworkMonitor) snapshot() []func(bool) {
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	return fns
}
