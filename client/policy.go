package client

import (
	"math/rand"
	"sync"
)

// BackendPolicy iterates a fixed set of Backends, one per call to Next
// (spec.md §4.9 "Load balancer"), grounded on lb_transport.py's
// BackendPolicy.backend_stream generator.
type BackendPolicy interface {
	// Next returns the backend to use for the next request.
	Next() *Backend
	// Backends returns the fixed backend set this policy was built with.
	Backends() []*Backend
}

// RoundRobin cycles through backends in insertion order
// (lb_transport.py's RoundRobinPolicy; SUPPLEMENTED FEATURES in
// SPEC_FULL.md fixes the original's set-iteration-order ambiguity to the
// insertion order actually given to New*).
type RoundRobin struct {
	mu       sync.Mutex
	backends []*Backend
	next     int
}

func NewRoundRobin(backends []*Backend) *RoundRobin {
	return &RoundRobin{backends: append([]*Backend(nil), backends...)}
}

func (p *RoundRobin) Next() *Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.backends[p.next%len(p.backends)]
	p.next++
	return b
}

func (p *RoundRobin) Backends() []*Backend { return p.backends }

// Random selects uniformly at random among backends each call
// (lb_transport.py's RandomPolicy).
type Random struct {
	mu       sync.Mutex
	backends []*Backend
}

func NewRandom(backends []*Backend) *Random {
	return &Random{backends: append([]*Backend(nil), backends...)}
}

func (p *Random) Next() *Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backends[rand.Intn(len(p.backends))]
}

func (p *Random) Backends() []*Backend { return p.backends }

// LowestLatency picks randomly among backends until every backend has a
// recorded RTT, then picks the backend with the smallest last recorded
// RTT (lb_transport.py's LowestLatencyPolicy, and the notch agent's
// default policy).
type LowestLatency struct {
	mu       sync.Mutex
	backends []*Backend
}

func NewLowestLatency(backends []*Backend) *LowestLatency {
	return &LowestLatency{backends: append([]*Backend(nil), backends...)}
}

func (p *LowestLatency) Next() *Backend {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range p.backends {
		if _, ok := b.LastRTT(); !ok {
			return p.backends[rand.Intn(len(p.backends))]
		}
	}

	best := p.backends[0]
	bestRTT, _ := best.LastRTT()
	for _, b := range p.backends[1:] {
		rtt, _ := b.LastRTT()
		if rtt < bestRTT {
			best, bestRTT = b, rtt
		}
	}
	return best
}

func (p *LowestLatency) Backends() []*Backend { return p.backends }
