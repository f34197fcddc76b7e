package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Checker answers whether the backend can be reached right now.
type Checker interface {
	Ping(ctx context.Context) error
}

// HTTPChecker probes a URL with HEAD. Any response means reachable.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// Ping implements Checker.
func (c HTTPChecker) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Prober feeds a Monitor from periodic reachability checks, for hosts that
// have no platform signal of their own.
type Prober struct {
	monitor  *Monitor
	checker  Checker
	interval time.Duration
	timeout  time.Duration
}

// NewProber creates a Prober. A nil checker reports reachability as unknown.
func NewProber(monitor *Monitor, checker Checker, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Prober{
		monitor:  monitor,
		checker:  checker,
		interval: interval,
		timeout:  5 * time.Second,
	}
}

// Probe runs one check and pushes the result into the monitor.
func (p *Prober) Probe(ctx context.Context) State {
	st := State{Connected: true}
	if p.checker != nil {
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.checker.Ping(cctx)
		cancel()
		st.Reachable = Bool(err == nil)
	}
	p.monitor.Update(st)
	return st
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
