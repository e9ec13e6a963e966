// Package netmon tracks network reachability for the sync engine.
//
// A Monitor holds the latest NetworkInfo. Platform integrations push
// changes with Update; a Prober can poll a reachability URL and feed the
// monitor when no platform events are available.
package netmon

import (
	"log"
	"os"
	"sync"
)

// Connection types reported in NetworkInfo.Type.
const (
	TypeUnknown  = "unknown"
	TypeNone     = "none"
	TypeWifi     = "wifi"
	TypeCellular = "cellular"
	TypeEthernet = "ethernet"
	TypeProbe    = "probe"
)

// NetworkInfo is the current connectivity state.
type NetworkInfo struct {
	IsConnected bool   `json:"is_connected"`
	Type        string `json:"type"`
}

// Listener is called with the previous and new state on every change.
type Listener func(prev, next NetworkInfo)

// Monitor holds the connectivity state. It is safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	info      NetworkInfo
	listeners map[int]Listener
	nextID    int
	logger    *log.Logger
}

// New creates a monitor that starts disconnected with an unknown type.
func New(logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &Monitor{
		info:      NetworkInfo{Type: TypeUnknown},
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// Info returns the current state.
func (m *Monitor) Info() NetworkInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Connected reports whether the network is reachable.
func (m *Monitor) Connected() bool {
	return m.Info().IsConnected
}

// Update records a new state. Listeners are called outside the lock, only
// when the state actually changed.
func (m *Monitor) Update(info NetworkInfo) {
	if info.Type == "" {
		info.Type = TypeUnknown
	}

	m.mu.Lock()
	prev := m.info
	if prev == info {
		m.mu.Unlock()
		return
	}
	m.info = info
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	m.logger.Printf("Network changed: connected=%v type=%s", info.IsConnected, info.Type)
	for _, l := range listeners {
		l(prev, info)
	}
}

// Subscribe registers a listener and returns a function that removes it.
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// BecameConnected reports whether a change is a transition to connected.
func BecameConnected(prev, next NetworkInfo) bool {
	return !prev.IsConnected && next.IsConnected
}
