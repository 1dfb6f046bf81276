package registry

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/nanoncore/notch/device"
	_ "github.com/nanoncore/notch/device/vendors/ios"
)

func writeRouterDB(t *testing.T, dir string, lines ...string) {
	t.Helper()
	path := filepath.Join(dir, "router.db")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestRouterDBProviderScanAndLookup(t *testing.T) {
	dir := t.TempDir()
	writeRouterDB(t, dir,
		"# a comment",
		"xr1.foo:ios:up",
		"xr2.foo:ios:down",
		"xr3.foo:unknownvendor:up",
	)

	p := NewRouterDBProvider(dir, false)
	p.Resolve = func(name string) ([]string, error) {
		if name == "xr1.foo" {
			return []string{"10.0.0.1"}, nil
		}
		return nil, os.ErrNotExist
	}
	if err := p.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	info, ok := p.DeviceInfo("xr1.foo")
	if !ok {
		t.Fatal("expected xr1.foo to be found")
	}
	if info.DeviceType != "ios" || len(info.Addresses) != 1 || info.Addresses[0] != "10.0.0.1" {
		t.Fatalf("unexpected DeviceInfo %+v", info)
	}

	if _, ok := p.DeviceInfo("xr2.foo"); ok {
		t.Fatal("xr2.foo is down and ignore_down_devices=false, must be dropped")
	}
	if _, ok := p.DeviceInfo("xr3.foo"); ok {
		t.Fatal("xr3.foo has an unregistered device_type, must be dropped")
	}
}

func TestRegistryDeviceInfoPriorityOrder(t *testing.T) {
	r := New()

	low := &stubProvider{name: "low", info: map[string]device.DeviceInfo{
		"r1": {Name: "r1", Addresses: []string{"1.1.1.1"}, DeviceType: "ios"},
	}}
	high := &stubProvider{name: "high", info: map[string]device.DeviceInfo{
		"r1": {Name: "r1", Addresses: []string{"2.2.2.2"}, DeviceType: "junos"},
	}}
	r.AddProvider(100, low)
	r.AddProvider(1, high) // lower number wins

	info, ok := r.DeviceInfo("r1")
	if !ok {
		t.Fatal("expected r1 to be found")
	}
	if info.DeviceType != "junos" {
		t.Fatalf("priority-1 provider should win, got %+v", info)
	}
	if !low.scanned || !high.scanned {
		t.Fatal("both providers must be scanned on first lookup")
	}
}

func TestRegistryDevicesMatchingUnionAndMemoize(t *testing.T) {
	r := New()
	a := &stubProvider{name: "a", match: map[string][]string{"^r.*$": {"r1", "r2"}}}
	b := &stubProvider{name: "b", match: map[string][]string{"^r.*$": {"r2", "r3"}}}
	r.AddProvider(10, a)
	r.AddProvider(20, b)

	names, err := r.DevicesMatching("^r.*$")
	if err != nil {
		t.Fatalf("DevicesMatching: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("names = %v, want union of 3 distinct names", names)
	}

	a.matchCalls, b.matchCalls = 0, 0
	if _, err := r.DevicesMatching("^r.*$"); err != nil {
		t.Fatalf("DevicesMatching (cached): %v", err)
	}
	if a.matchCalls != 0 || b.matchCalls != 0 {
		t.Fatal("second call with the same pattern must be served from the memoization cache")
	}
}

func TestRegistryDevicesMatchingAnchorsPattern(t *testing.T) {
	r := New()
	p := &stubProvider{name: "a", match: map[string][]string{"^r1$": {"r1"}}}
	r.AddProvider(10, p)

	// "r1" must be anchored to "^r1$" before it reaches the provider, so
	// it cannot match substrings like "xr1.foo".
	names, err := r.DevicesMatching("r1")
	if err != nil {
		t.Fatalf("DevicesMatching: %v", err)
	}
	if len(names) != 1 || names[0] != "r1" {
		t.Fatalf("names = %v, want [r1] via the anchored pattern", names)
	}
}

type stubProvider struct {
	name      string
	info      map[string]device.DeviceInfo
	match     map[string][]string
	scanned   bool
	matchCalls int
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Scan() error  { s.scanned = true; return nil }
func (s *stubProvider) DeviceInfo(name string) (device.DeviceInfo, bool) {
	info, ok := s.info[name]
	return info, ok
}
func (s *stubProvider) DevicesMatching(re *regexp.Regexp) []string {
	s.matchCalls++
	return s.match[re.String()]
}

var _ Provider = (*stubProvider)(nil)
