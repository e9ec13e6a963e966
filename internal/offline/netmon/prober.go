package netmon

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ProberConfig configures a Prober.
type ProberConfig struct {
	// URL is requested with HEAD; any HTTP response counts as reachable.
	URL string
	// Interval between probes (default 30s).
	Interval time.Duration
	// Timeout per probe (default 5s).
	Timeout time.Duration
}

// DefaultProberConfig returns sensible defaults.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		URL:      "https://clients3.google.com/generate_204",
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Prober polls a URL and feeds the result into a Monitor.
type Prober struct {
	monitor *Monitor
	config  ProberConfig
	client  *http.Client

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewProber creates a prober for monitor.
func NewProber(monitor *Monitor, config ProberConfig) *Prober {
	def := DefaultProberConfig()
	if config.URL == "" {
		config.URL = def.URL
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Prober{
		monitor: monitor,
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// Probe performs one reachability check and updates the monitor. A probe
// interrupted by ctx leaves the monitor unchanged.
func (p *Prober) Probe(ctx context.Context) NetworkInfo {
	err := p.reachable(ctx)
	if err != nil && ctx.Err() != nil {
		return p.monitor.Info()
	}
	info := NetworkInfo{IsConnected: err == nil, Type: TypeProbe}
	if !info.IsConnected {
		info.Type = TypeNone
	}
	p.monitor.Update(info)
	return info
}

func (p *Prober) reachable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Start probes immediately and then on every interval until Stop.
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("prober already running")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.Probe(ctx)
		ticker := time.NewTicker(p.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Probe(ctx)
			}
		}
	}()
	return nil
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
}
