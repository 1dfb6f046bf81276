package registry

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/internal/logging"
)

// RouterDBProvider walks a directory tree for RANCID-style router.db
// files, grounded on notch/agent/device_manager.py's RancidDeviceProvider:
// one device per line, "name:type:status[:extra]", '#' starts a comment,
// addresses resolved via DNS at scan time.
type RouterDBProvider struct {
	Root              string
	IgnoreDownDevices bool

	// Resolve looks up the addresses for a device name. Defaults to
	// net.LookupHost; overridable in tests.
	Resolve func(name string) ([]string, error)

	mu      sync.Mutex
	devices map[string]device.DeviceInfo
}

// NewRouterDBProvider constructs a provider rooted at root.
func NewRouterDBProvider(root string, ignoreDownDevices bool) *RouterDBProvider {
	return &RouterDBProvider{
		Root:              root,
		IgnoreDownDevices: ignoreDownDevices,
		Resolve:           net.LookupHost,
		devices:           make(map[string]device.DeviceInfo),
	}
}

func (p *RouterDBProvider) Name() string { return "router.db" }

// Scan recursively walks Root, reading every file named router.db.
func (p *RouterDBProvider) Scan() error {
	loaded, imported := 0, 0
	err := filepath.WalkDir(p.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip the unreadable entry and keep walking, like the original's try/except per file.
		}
		if d.IsDir() || filepath.Base(path) != "router.db" {
			return nil
		}
		n, rerr := p.readFile(path)
		if rerr != nil {
			logging.Log.WithError(rerr).WithField("path", path).Error("error reading router.db")
			return nil
		}
		loaded++
		imported += n
		return nil
	})
	logging.Log.WithFields(map[string]interface{}{
		"files": loaded, "devices": imported,
	}).Debug("router.db provider scan complete")
	return err
}

func (p *RouterDBProvider) readFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	imported := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Split(trimmed, ":")
		if len(fields) < 2 {
			continue
		}
		name, devType, status := fields[0], fields[1], ""
		if len(fields) > 2 {
			status = fields[2]
		}
		if !p.IgnoreDownDevices && !strings.Contains(status, "up") {
			continue
		}
		if len(device.SupportedDeviceTypes()) > 0 && !isSupportedType(devType) {
			logging.Log.WithFields(map[string]interface{}{
				"device": name, "device_type": devType,
			}).Debug("router.db: skipping unknown vendor")
			continue
		}
		addrs, rerr := p.Resolve(name)
		if rerr != nil || len(addrs) == 0 {
			// Devices without a resolvable address aren't cared about
			// (spec.md §8 Boundary behaviors).
			continue
		}
		p.mu.Lock()
		p.devices[name] = device.DeviceInfo{Name: name, Addresses: addrs, DeviceType: devType}
		p.mu.Unlock()
		imported++
	}
	return imported, scanner.Err()
}

func isSupportedType(t string) bool {
	for _, s := range device.SupportedDeviceTypes() {
		if s == t {
			return true
		}
	}
	return false
}

func (p *RouterDBProvider) DeviceInfo(name string) (device.DeviceInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.devices[name]
	return info, ok
}

func (p *RouterDBProvider) DevicesMatching(re *regexp.Regexp) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for name := range p.devices {
		if re.MatchString(name) {
			names = append(names, name)
		}
	}
	return names
}

var _ Provider = (*RouterDBProvider)(nil)
