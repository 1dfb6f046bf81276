package registry

import (
	"net"
	"regexp"
	"strings"
	"sync"

	"github.com/nanoncore/notch/device"
)

// dnsTXTPrefix marks a TXT record as a Notch device-metadata record
// (spec.md §6 "DNS TXT record").
const dnsTXTPrefix = "v=notch1"

// dnsTXTKeys lists the whitelisted keys a record may set.
var dnsTXTKeys = map[string]bool{
	"device_type":    true,
	"connect_method": true,
}

// DNSTXTProvider answers device_info lookups from DNS TXT records on
// demand, memoizing answers per name (spec.md §4.6), grounded on
// notch/agent/device_manager.py's DnsTxtDeviceProvider.
type DNSTXTProvider struct {
	LookupTXT  func(name string) ([]string, error)
	LookupAddr func(name string) ([]string, error)

	mu      sync.Mutex
	devices map[string]device.DeviceInfo
	matched map[string]bool // names ever resolved, for DevicesMatching
}

// NewDNSTXTProvider constructs a provider using net.LookupTXT/net.LookupHost.
func NewDNSTXTProvider() *DNSTXTProvider {
	return &DNSTXTProvider{
		LookupTXT:  net.LookupTXT,
		LookupAddr: net.LookupHost,
		devices:    make(map[string]device.DeviceInfo),
		matched:    make(map[string]bool),
	}
}

func (p *DNSTXTProvider) Name() string { return "dnstxt" }

// Scan is a no-op: this provider only uses live, on-demand lookups
// (matching the original's "This method uses live information only").
func (p *DNSTXTProvider) Scan() error { return nil }

func (p *DNSTXTProvider) DeviceInfo(name string) (device.DeviceInfo, bool) {
	p.mu.Lock()
	if info, ok := p.devices[name]; ok {
		p.mu.Unlock()
		return info, true
	}
	p.mu.Unlock()

	records, err := p.LookupTXT(name)
	if err != nil {
		return device.DeviceInfo{}, false
	}

	for _, record := range records {
		kv, ok := parseNotchTXT(record)
		if !ok {
			continue
		}
		devType := kv["device_type"]
		if devType == "" {
			continue
		}
		addrs, err := p.LookupAddr(name)
		if err != nil || len(addrs) == 0 {
			return device.DeviceInfo{}, false
		}
		info := device.DeviceInfo{Name: name, Addresses: addrs, DeviceType: devType}
		p.mu.Lock()
		p.devices[name] = info
		p.matched[name] = true
		p.mu.Unlock()
		return info, true
	}
	return device.DeviceInfo{}, false
}

// parseNotchTXT parses one "v=notch1 k:v k:v ..." TXT record, returning
// only the whitelisted keys, per spec.md §6.
func parseNotchTXT(record string) (map[string]string, bool) {
	fields := strings.Fields(record)
	if len(fields) == 0 || !strings.EqualFold(fields[0], dnsTXTPrefix) {
		return nil, false
	}
	kv := make(map[string]string)
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, ":")
		if !ok || !dnsTXTKeys[k] {
			continue
		}
		kv[k] = v
	}
	return kv, true
}

// DevicesMatching only returns names this provider has already resolved
// via DeviceInfo, since DNS offers no enumeration primitive.
func (p *DNSTXTProvider) DevicesMatching(re *regexp.Regexp) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for name := range p.matched {
		if re.MatchString(name) {
			names = append(names, name)
		}
	}
	return names
}

var _ Provider = (*DNSTXTProvider)(nil)
