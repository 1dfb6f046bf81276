// Package registry implements the device-metadata registry (component
// C6, spec.md §4.6), grounded on notch/agent/device_manager.py's
// DeviceManager: a priority-ordered set of DeviceProvider sources,
// lazily scanned once (serve_ready), answering device_info lookups in
// priority order and devices_matching by union across providers.
package registry

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/internal/logging"
)

// Provider is one source of device.DeviceInfo records, such as a
// router.db tree or DNS TXT records (spec.md §4.6).
type Provider interface {
	// Name identifies the provider kind (e.g. "router.db", "dnstxt"),
	// matching the config's device_sources "provider" field.
	Name() string
	// Scan performs any up-front, potentially expensive setup (walking a
	// filesystem, priming a cache). Called at most once per Registry
	// lifetime, lazily, on the first device_info/devices_matching call.
	Scan() error
	// DeviceInfo returns what this provider knows about name, or
	// ok=false if it has no record.
	DeviceInfo(name string) (device.DeviceInfo, bool)
	// DevicesMatching returns every device name this provider knows
	// about that matches re.
	DevicesMatching(re *regexp.Regexp) []string
}

// source pairs a Provider with its configured priority; lower wins.
type source struct {
	priority int
	provider Provider
}

// matchCacheSize bounds the devices_matching memoization LRU (spec.md
// §4.6: "per-provider answers memoized in a bounded LRU keyed by the
// regex string"). Grounded on gravitational-teleport's go.mod carrying
// hashicorp/golang-lru/v2 — a plain bounded cache is exactly what this
// memoization needs, unlike the session cache's populate/expire-callback
// semantics (see DESIGN.md).
const matchCacheSize = 512

// Registry consults its providers in priority order, scanning them
// lazily on first use.
type Registry struct {
	mu         sync.Mutex
	sources    []source
	scanned    bool
	matchCache *lru.Cache[string, []string]
}

// New constructs an empty Registry. Add providers with AddProvider before
// the first DeviceInfo/DevicesMatching call.
func New() *Registry {
	cache, _ := lru.New[string, []string](matchCacheSize)
	return &Registry{matchCache: cache}
}

// AddProvider registers p at the given priority (lower values are
// consulted first).
func (r *Registry) AddProvider(priority int, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source{priority: priority, provider: p})
	sort.SliceStable(r.sources, func(i, j int) bool { return r.sources[i].priority < r.sources[j].priority })
}

// scanOnce runs Scan on every provider exactly once per Registry
// lifetime (spec.md §4.6 "Triggers lazy scan on first use (serve_ready
// flag)"). Must be called with r.mu held.
func (r *Registry) scanOnce() {
	if r.scanned {
		return
	}
	for _, s := range r.sources {
		if err := s.provider.Scan(); err != nil {
			logging.WithFields(map[string]interface{}{
				"provider": s.provider.Name(),
			}).WithError(err).Error("provider scan failed")
		}
	}
	r.scanned = true
}

// DeviceInfo consults providers in priority order; the first hit wins.
func (r *Registry) DeviceInfo(name string) (device.DeviceInfo, bool) {
	r.mu.Lock()
	r.scanOnce()
	sources := append([]source(nil), r.sources...)
	r.mu.Unlock()

	for _, s := range sources {
		if info, ok := s.provider.DeviceInfo(name); ok {
			return info, true
		}
	}
	return device.DeviceInfo{}, false
}

// DevicesMatching returns the union, across all providers, of device
// names matching pattern. The pattern is anchored before matching
// (spec.md §4.6; device_manager.py prepends "^" and appends "$" when
// absent), and per-pattern answers are memoized on the anchored key.
func (r *Registry) DevicesMatching(pattern string) ([]string, error) {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern = pattern + "$"
	}

	r.mu.Lock()
	r.scanOnce()
	if cached, ok := r.matchCache.Get(pattern); ok {
		r.mu.Unlock()
		return cached, nil
	}
	sources := append([]source(nil), r.sources...)
	r.mu.Unlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	for _, s := range sources {
		for _, n := range s.provider.DevicesMatching(re) {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)

	r.mu.Lock()
	r.matchCache.Add(pattern, names)
	r.mu.Unlock()

	return names, nil
}
