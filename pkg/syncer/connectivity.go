package syncer

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Connectivity reports whether the ledger is reachable. The orchestrator
// takes it as an explicit dependency rather than reading ambient global
// state, so offline/online transitions are deterministic in tests.
type Connectivity interface {
	Online() bool
}

// Notifier is an optional extension: a channel that emits true on
// offline-to-online transitions and false on the reverse.
type Notifier interface {
	Connectivity
	Changes() <-chan bool
}

// Static is a fixed connectivity state, useful for one-shot tools and tests.
type Static bool

func (s Static) Online() bool { return bool(s) }

// Probe polls the ledger's health endpoint and tracks reachability.
type Probe struct {
	url      string
	client   *http.Client
	interval time.Duration
	online   atomic.Bool
	changes  chan bool
}

func NewProbe(baseURL string, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Probe{
		url:      baseURL + "/healthz",
		client:   &http.Client{Timeout: 5 * time.Second},
		interval: interval,
		changes:  make(chan bool, 1),
	}
}

func (p *Probe) Online() bool { return p.online.Load() }

func (p *Probe) Changes() <-chan bool { return p.changes }

// Check performs one reachability probe and records the result.
func (p *Probe) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.set(false)
		return false
	}
	_ = resp.Body.Close()
	ok := resp.StatusCode < 500
	p.set(ok)
	return ok
}

func (p *Probe) set(online bool) {
	if p.online.Swap(online) == online {
		return
	}
	select {
	case p.changes <- online:
	default:
	}
}

// Run polls until ctx is cancelled.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
